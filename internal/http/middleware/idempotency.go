// Package middleware – Idempotency
//
// Idempotency protects unsafe endpoints against client retries. A request that
// carries an Idempotency-Key is admitted once into a dedup window. A repeat of
// the key while the first attempt is still in flight gets 409 so the client
// retries later; a repeat after it succeeded is marked as a replay so the
// handler can answer without side effects. Failed attempts release the key so
// the client can retry.
package middleware

import (
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/wa-blip-relay/internal/dedup"
)

// HeaderIdempotencyKey carries the client idempotency key.
const HeaderIdempotencyKey = "Idempotency-Key"

const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay"
	ctxKeyRateBypass = "rate.bypass"
)

var defaultKeyPattern = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)

// KeyWindow remembers admitted keys; *dedup.Guard satisfies it.
type KeyWindow interface {
	Admit(id string) bool
	Complete(id string)
	Release(id string)
	StateOf(id string) dedup.State
}

// IdempotencyOptions configures key validation.
type IdempotencyOptions struct {
	// MaxLen caps the accepted key length. Values <= 0 default to 200.
	MaxLen int
	// Pattern restricts allowed characters; defaults to ^[A-Za-z0-9._~\-:]+$.
	Pattern *regexp.Regexp
}

// GetIdempotencyKey returns the validated key stashed by Idempotency.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeyIdemKey)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// IsReplay reports whether the request repeats a key that already succeeded.
func IsReplay(c *gin.Context) bool {
	v, _ := c.Get(ctxKeyIdemReplay)
	b, _ := v.(bool)
	return b
}

// Idempotency validates the Idempotency-Key header and consults window.
//
//   - No header: pass through.
//   - Invalid header: 400 bad_idempotency_key.
//   - Key still in flight: 409 idempotency_in_flight.
//   - Key already completed: the request is flagged as a replay (and exempt
//     from rate limiting); the handler decides how to answer.
//   - Key admitted: after the handler runs the key is completed on 2xx and
//     released otherwise.
//
// Keys are scoped by route so one key can be reused across endpoints.
func Idempotency(opts IdempotencyOptions, window KeyWindow) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 200
	}
	pat := opts.Pattern
	if pat == nil {
		pat = defaultKeyPattern
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": GetRequestID(c),
				"code":       "bad_idempotency_key",
				"message":    "invalid Idempotency-Key",
			})
			return
		}
		c.Set(ctxKeyIdemKey, key)

		scoped := c.FullPath() + "|" + key
		if !window.Admit(scoped) {
			// Absent here means the first attempt failed in between; the
			// client retries either way.
			if window.StateOf(scoped) != dedup.Completed {
				c.Header("Retry-After", "1")
				c.AbortWithStatusJSON(http.StatusConflict, gin.H{
					"request_id": GetRequestID(c),
					"code":       "idempotency_in_flight",
					"message":    "a request with this Idempotency-Key is still being processed",
				})
				return
			}
			c.Set(ctxKeyIdemReplay, true)
			c.Set(ctxKeyRateBypass, true)
			c.Next()
			return
		}

		defer func() {
			// A panic below leaves status 200 unwritten; treat it as failure.
			if rec := recover(); rec != nil {
				window.Release(scoped)
				panic(rec)
			}
			if s := c.Writer.Status(); s >= 200 && s < 300 && !c.IsAborted() {
				window.Complete(scoped)
				return
			}
			window.Release(scoped)
		}()
		c.Next()
	}
}
