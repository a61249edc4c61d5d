package routes

import (
	"net/http"

	"school-copilot/middleware"
	"school-copilot/utils"

	"github.com/gin-gonic/gin"
)

func SetupAdminRoutes(api *gin.RouterGroup, d *Deps) {
	admin := api.Group("/admin")
	admin.Use(middleware.AdminGuard())

	admin.POST("/cleanup", HandleCleanup(d))
	admin.POST("/maintenance", HandleRunMaintenance(d))
	admin.GET("/maintenance", HandleMaintenanceStatus(d))
}

func HandleCleanup(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := utils.WithLongTimeout(c.Request.Context())
		defer cancel()
		result, err := d.Isolation.CleanupOrphanedData(ctx)
		if err != nil {
			respondError(c, err, "Cleanup failed")
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// HandleRunMaintenance runs cleanup plus an audit of every class now
func HandleRunMaintenance(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if d.Maintenance == nil {
			utils.RespondWithUnavailable(c, "Maintenance is not configured")
			return
		}
		ctx, cancel := utils.WithLongTimeout(c.Request.Context())
		defer cancel()
		report, err := d.Maintenance.RunOnce(ctx)
		if err != nil {
			respondError(c, err, "Maintenance run failed")
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

func HandleMaintenanceStatus(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if d.Maintenance == nil {
			c.JSON(http.StatusOK, gin.H{"scheduled": false})
			return
		}
		next, ok := d.Maintenance.NextRun()
		resp := gin.H{"scheduled": ok, "cron": d.Config.MaintenanceCron}
		if ok {
			resp["next_run"] = next
		}
		c.JSON(http.StatusOK, resp)
	}
}
