package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// BearerAuthMiddleware extracts the caller identity for job ownership and
// notification routing. Token issuance and verification are delegated to
// the external platform; this layer only requires a bearer token and
// derives user_id / session_id from the forwarded identity headers.
// TODO: verify the token signature against the platform JWKS endpoint.
func BearerAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || strings.TrimSpace(strings.TrimPrefix(auth, "Bearer ")) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		userID := c.GetHeader("X-User-Id")
		if userID == "" {
			userID = uuid.NewString()
		}
		sessionID := c.GetHeader("X-Session-Id")
		if sessionID == "" {
			sessionID = userID
		}

		c.Set("user_id", userID)
		c.Set("session_id", sessionID)
		c.Next()
	}
}
