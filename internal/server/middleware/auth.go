package middleware

import (
	"net/http"
	"strings"

	"school-gateway/internal/token"

	"github.com/gin-gonic/gin"
)

const (
	// ContextIdentity is the gin context key holding the authenticated identity.
	ContextIdentity = "identity"
	// ContextAccessToken holds the raw bearer token for handlers that revoke it.
	ContextAccessToken = "access_token"
)

// Auth guards REST routes with the same access check the gateway runs per
// frame. No refresh path here; REST clients use the refresh endpoint.
func Auth(gate *token.Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization header is required"})
			return
		}

		tokenString := strings.TrimPrefix(header, "Bearer ")
		identity, _, err := gate.Authenticate(c.Request.Context(), tokenString, "")
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		c.Set(ContextIdentity, identity)
		c.Set(ContextAccessToken, tokenString)
		c.Next()
	}
}
