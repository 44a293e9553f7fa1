package security

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"dynamic-table/internal/middleware"
	"dynamic-table/internal/utils"
	"dynamic-table/pkg/response"
)

const claimsKey = "user_claims"

// AuthMiddleware provides JWT authentication middleware. A nil manager
// disables authentication.
type AuthMiddleware struct {
	jwtManager *JWTManager
}

// NewAuthMiddleware creates a new AuthMiddleware
func NewAuthMiddleware(jwtManager *JWTManager) *AuthMiddleware {
	return &AuthMiddleware{jwtManager: jwtManager}
}

func (am *AuthMiddleware) Enabled() bool {
	return am != nil && am.jwtManager != nil
}

// RequireAuth creates a middleware that requires authentication
func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !am.Enabled() {
			c.Next()
			return
		}

		token, err := ExtractTokenFromHeader(c.GetHeader("Authorization"))
		if err != nil {
			am.unauthorized(c, utils.ErrCodeUnauthorized, err.Error())
			return
		}

		claims, err := am.jwtManager.ValidateToken(token)
		if errors.Is(err, ErrTokenExpired) {
			am.unauthorized(c, utils.ErrCodeTokenExpired, "Token expired")
			return
		}
		if err != nil {
			am.unauthorized(c, utils.ErrCodeInvalidToken, "Invalid or expired token")
			return
		}

		c.Set(claimsKey, claims)
		c.Set("user_id", claims.Subject)
		c.Next()
	}
}

// RequireRole rejects authenticated callers without role. It expects
// RequireAuth earlier in the chain.
func (am *AuthMiddleware) RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !am.Enabled() {
			c.Next()
			return
		}
		claims, ok := GetUserClaims(c)
		if !ok {
			am.unauthorized(c, utils.ErrCodeUnauthorized, "User claims not found")
			return
		}
		if !claims.HasRole(role) {
			c.AbortWithStatusJSON(http.StatusForbidden, response.Fail(
				utils.ErrCodeForbidden, "Insufficient permissions", "", middleware.GetCorrelationID(c)))
			return
		}
		c.Next()
	}
}

func (am *AuthMiddleware) unauthorized(c *gin.Context, code, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized,
		response.Fail(code, message, "", middleware.GetCorrelationID(c)))
}

// GetUserClaims extracts user claims from context
func GetUserClaims(c *gin.Context) (*Claims, bool) {
	claims, exists := c.Get(claimsKey)
	if !exists {
		return nil, false
	}
	userClaims, ok := claims.(*Claims)
	return userClaims, ok
}
