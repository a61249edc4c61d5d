package routes

import (
	"net/http"

	"school-copilot/middleware"
	"school-copilot/models"
	"school-copilot/utils"

	"github.com/gin-gonic/gin"
)

func SetupQueryRoutes(api *gin.RouterGroup, d *Deps) {
	queries := api.Group("/queries")
	queries.POST("", middleware.RequireRole(models.RoleStudent), HandleAsk(d))
	queries.GET("/isolation", middleware.StaffGuard(), HandleIsolationProbe(d))
}

// HandleAsk answers a student question from the class's documents. A
// question that passed the gate always gets 200, with failures reported
// in the result.
func HandleAsk(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.QueryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "Invalid request data", gin.H{"error": err.Error()})
			return
		}

		result, err := d.Queries.Ask(c.Request.Context(), middleware.GetUserID(c), req.ClassID, req.Query)
		if err != nil {
			respondError(c, err, "Failed to process query")
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// HandleIsolationProbe reports what a student's query in a class could reach
func HandleIsolationProbe(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		studentID, classID := c.Query("student_id"), c.Query("class_id")
		if studentID == "" || classID == "" {
			utils.RespondWithBadRequest(c, "student_id and class_id are required", nil)
			return
		}
		if err := d.Permissions.CanManageClass(ctx, middleware.GetPrincipal(c), classID); err != nil {
			respondError(c, err, "Failed to verify query isolation")
			return
		}

		c.JSON(http.StatusOK, d.Isolation.VerifyQueryIsolation(ctx, studentID, classID, c.Query("query")))
	}
}
