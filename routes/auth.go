package routes

import (
	"context"
	"net/http"

	"school-copilot/internal/auth"
	"school-copilot/middleware"

	"github.com/gin-gonic/gin"
)

// TokenRevoker invalidates an access token before it expires
type TokenRevoker interface {
	Revoke(ctx context.Context, claims *auth.Claims) error
}

func SetupAuthRoutes(api *gin.RouterGroup, d *Deps) {
	api.GET("/auth/me", HandleWhoAmI())
	api.POST("/auth/logout", HandleLogout(d))
}

func HandleWhoAmI() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := middleware.GetClaims(c)
		resp := gin.H{"user_id": middleware.GetUserID(c), "role": middleware.GetRole(c)}
		if claims != nil && claims.ExpiresAt != nil {
			resp["expires_at"] = claims.ExpiresAt.Time
		}
		c.JSON(http.StatusOK, resp)
	}
}

// HandleLogout revokes the caller's token
func HandleLogout(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := middleware.GetClaims(c)
		if d.Tokens != nil && claims != nil {
			if err := d.Tokens.Revoke(c.Request.Context(), claims); err != nil {
				respondError(c, err, "Failed to revoke token")
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
	}
}
