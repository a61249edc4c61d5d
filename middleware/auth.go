package middleware

import (
	"context"
	"errors"

	"school-copilot/internal/auth"
	"school-copilot/services"
	"school-copilot/utils"

	"github.com/gin-gonic/gin"
)

// TokenValidator checks a bearer token and returns its claims
type TokenValidator interface {
	Validate(ctx context.Context, tokenString string) (*auth.Claims, error)
}

type AuthMiddleware struct {
	tokens TokenValidator
}

func NewAuthMiddleware(tokens TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens}
}

func (a *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := utils.ExtractTokenFromHeader(c.GetHeader("Authorization"))
		if tokenString == "" {
			utils.RespondWithUnauthorized(c, "Authentication token is required")
			c.Abort()
			return
		}

		claims, err := a.tokens.Validate(c.Request.Context(), tokenString)
		if err != nil {
			message := "Invalid or expired token"
			if errors.Is(err, auth.ErrRevokedToken) {
				message = "Token has been revoked"
			}
			utils.RespondWithUnauthorized(c, message)
			c.Abort()
			return
		}

		// Store user info in context
		c.Set("user_id", claims.UserID)
		c.Set("role", claims.Role)
		c.Set("claims", claims)

		c.Next()
	}
}

// Helper function to get user ID from context
func GetUserID(c *gin.Context) string {
	return c.GetString("user_id")
}

// Helper function to get role from context
func GetRole(c *gin.Context) string {
	return c.GetString("role")
}

// GetClaims returns the validated token claims, or nil
func GetClaims(c *gin.Context) *auth.Claims {
	if v, ok := c.Get("claims"); ok {
		if claims, ok := v.(*auth.Claims); ok {
			return claims
		}
	}
	return nil
}

// GetPrincipal returns the authenticated caller
func GetPrincipal(c *gin.Context) services.Principal {
	return services.Principal{UserID: GetUserID(c), Role: GetRole(c)}
}
