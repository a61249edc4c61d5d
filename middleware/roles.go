package middleware

import (
	"net/http"
	"slices"

	"school-copilot/models"
	"school-copilot/utils"

	"github.com/gin-gonic/gin"
)

func RequireRole(allowedRoles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := GetRole(c)
		if role == "" {
			utils.RespondWithUnauthorized(c, "User role not found")
			c.Abort()
			return
		}

		if !slices.Contains(allowedRoles, role) {
			utils.RespondWithError(c, http.StatusForbidden, "forbidden", "Insufficient permissions", gin.H{
				"required_roles": allowedRoles,
				"user_role":      role,
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

func AdminGuard() gin.HandlerFunc {
	return RequireRole(models.RoleAdmin)
}

// StaffGuard admits teachers and admins
func StaffGuard() gin.HandlerFunc {
	return RequireRole(models.RoleTeacher, models.RoleAdmin)
}
