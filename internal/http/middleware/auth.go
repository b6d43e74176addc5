// Package middleware – BearerAuth
//
// BearerAuth guards machine-to-machine endpoints (the bot gateway callback)
// with a single shared token.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// BearerAuth requires "Authorization: Bearer <token>". Missing or wrong
// tokens answer 401 unauthorized with a WWW-Authenticate challenge. An empty
// token rejects every request.
func BearerAuth(token string) gin.HandlerFunc {
	want := []byte(token)
	return func(c *gin.Context) {
		got, ok := bearerToken(c.GetHeader("Authorization"))
		if ok && len(want) > 0 && subtle.ConstantTimeCompare([]byte(got), want) == 1 {
			c.Next()
			return
		}
		c.Header("WWW-Authenticate", `Bearer realm="relay"`)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"request_id": GetRequestID(c),
			"code":       "unauthorized",
			"message":    "missing or invalid bearer token",
		})
	}
}

func bearerToken(h string) (string, bool) {
	const prefix = "bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	t := strings.TrimSpace(h[len(prefix):])
	return t, t != ""
}
