package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/telecrm/backend/internal/auth"
)

// BearerToken returns the token of an "Authorization: Bearer <token>" header.
func BearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	return token, token != ""
}

func Authenticate(svc *auth.Service, l zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := BearerToken(c)
		if !ok {
			abort(c, http.StatusUnauthorized, "UNAUTHORIZED", "Missing bearer token")
			return
		}
		sess, err := svc.Authenticate(c.Request.Context(), token)
		if errors.Is(err, auth.ErrInvalidToken) {
			abort(c, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or expired session")
			return
		}
		if err != nil {
			l.Error().Err(err).Msg("session lookup failed")
			abort(c, http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Could not verify session")
			return
		}
		auth.SetSession(c, sess)
		c.Next()
	}
}

// Require lets the request through when the session's role may perform any
// of ops.
func Require(ops ...auth.Operation) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := auth.SessionFrom(c)
		if !ok {
			abort(c, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
			return
		}
		for _, op := range ops {
			if auth.Allowed(sess.Role, op) {
				c.Next()
				return
			}
		}
		abort(c, http.StatusForbidden, "FORBIDDEN", "Your role is not allowed to perform this operation")
	}
}

func abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
			"details": nil,
		},
	})
}
