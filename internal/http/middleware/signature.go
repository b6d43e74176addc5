// Package middleware – WebhookSignature
//
// WebhookSignature authenticates webhook deliveries with the
// X-Hub-Signature-256 HMAC computed by the platform over the raw body.
package middleware

import (
	"bytes"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/wa-blip-relay/internal/whatsapp"
)

const ctxKeyRawBody = "raw.body"

// RawBody returns the body captured by WebhookSignature.
func RawBody(c *gin.Context) ([]byte, bool) {
	v, ok := c.Get(ctxKeyRawBody)
	if !ok {
		return nil, false
	}
	b, ok := v.([]byte)
	return b, ok
}

// WebhookSignature buffers the body, stashes it for RawBody and, when
// appSecret is set, rejects requests whose signature does not match with 401
// bad_signature. Unreadable (e.g. oversized) bodies answer 413. The body is
// restored so handlers can bind it again. Only POST requests are checked.
func WebhookSignature(appSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodPost {
			c.Next()
			return
		}
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"request_id": GetRequestID(c),
				"code":       "body_too_large",
				"message":    "request body unreadable or too large",
			})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		c.Set(ctxKeyRawBody, body)

		if appSecret == "" {
			c.Next()
			return
		}
		if !whatsapp.VerifySignature(appSecret, body, c.GetHeader(whatsapp.SignatureHeader)) {
			LoggerFrom(c).Warn().Msg("webhook signature mismatch")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"request_id": GetRequestID(c),
				"code":       "bad_signature",
				"message":    "invalid webhook signature",
			})
			return
		}
		c.Next()
	}
}
