package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rinkside/rinkside/cmd/api-gateway/types"
	"github.com/rinkside/rinkside/internal/auth"
)

const identityKey = "identity"

// AuthMiddleware requires a valid session token from the Authorization
// header or the session cookie
func AuthMiddleware(validator TokenValidator, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !authenticate(c, validator, cookieName) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, types.ErrorResponse{
				Success: false,
				Error:   "Authentication required",
				Code:    "UNAUTHORIZED",
			})
			return
		}
		c.Next()
	}
}

// OptionalAuthMiddleware attaches the caller's identity when a valid token is
// present and lets anonymous requests through
func OptionalAuthMiddleware(validator TokenValidator, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authenticate(c, validator, cookieName)
		c.Next()
	}
}

func authenticate(c *gin.Context, validator TokenValidator, cookieName string) bool {
	token := tokenFromRequest(c, cookieName)
	if token == "" {
		return false
	}

	id, err := validator.ValidateToken(c.Request.Context(), token)
	if err != nil {
		return false
	}

	c.Set(identityKey, id)
	c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), id))
	return true
}

func tokenFromRequest(c *gin.Context, cookieName string) string {
	if header := c.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	if cookieName != "" {
		if cookie, err := c.Cookie(cookieName); err == nil {
			return cookie
		}
	}
	return ""
}

// GetIdentityFromContext extracts the authenticated identity from gin context
func GetIdentityFromContext(c *gin.Context) (*auth.Identity, bool) {
	value, exists := c.Get(identityKey)
	if !exists {
		return nil, false
	}
	id, ok := value.(*auth.Identity)
	return id, ok
}
