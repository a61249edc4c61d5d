package routes

import (
	"net/http"
	"strconv"

	"school-copilot/middleware"
	"school-copilot/models"
	"school-copilot/services"
	"school-copilot/utils"

	"github.com/gin-gonic/gin"
)

const (
	defaultLogLimit = 100
	maxLogLimit     = 1000
)

func SetupClassRoutes(api *gin.RouterGroup, d *Deps) {
	classes := api.Group("/classes/:id")

	classes.GET("/documents", HandleListClassDocuments(d))
	classes.GET("/remaining", middleware.RequireRole(models.RoleStudent), HandleRemainingQuestions(d))

	staff := classes.Group("", middleware.StaffGuard())
	staff.POST("/collection", HandleCreateCollection(d))
	staff.POST("/documents/bulk", HandleBulkAssign(d))
	staff.POST("/documents/:docId", HandleAssignDocument(d))
	staff.DELETE("/documents/:docId", HandleRemoveDocument(d))
	staff.POST("/migrate/:toId", HandleMigrateClass(d))
	staff.POST("/rebuild", HandleRebuildIndex(d))
	staff.GET("/stats", HandleClassStats(d))
	staff.GET("/audit", HandleClassAudit(d))
	staff.GET("/query-logs", HandleQueryLogs(d))
	staff.GET("/query-logs/verify", HandleVerifyQueryLogs(d))

	api.GET("/students/:id/classes", HandleStudentClasses(d))
}

// HandleCreateCollection gives the class a fresh, empty vector index
func HandleCreateCollection(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		classID := c.Param("id")
		if err := d.Permissions.CanManageClass(c.Request.Context(), middleware.GetPrincipal(c), classID); err != nil {
			respondError(c, err, "Failed to create class collection")
			return
		}
		if err := d.Isolation.CreateClassCollection(c.Request.Context(), classID); err != nil {
			respondError(c, err, "Failed to create class collection")
			return
		}
		c.JSON(http.StatusCreated, gin.H{"message": "Class collection created", "class_id": classID})
	}
}

// HandleListClassDocuments lists the class's documents for its staff and
// for students enabled in it
func HandleListClassDocuments(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		classID := c.Param("id")
		p := middleware.GetPrincipal(c)

		if p.Role == models.RoleStudent {
			if !d.Isolation.VerifyStudentAccess(ctx, p.UserID, classID) {
				utils.RespondWithForbidden(c, services.AccessDeniedMessage)
				return
			}
		} else if err := d.Permissions.CanManageClass(ctx, p, classID); err != nil {
			respondError(c, err, "Failed to list class documents")
			return
		}

		docs, err := d.Isolation.GetClassDocuments(ctx, classID)
		if err != nil {
			respondError(c, err, "Failed to list class documents")
			return
		}
		c.JSON(http.StatusOK, gin.H{"class_id": classID, "documents": docs, "total": len(docs)})
	}
}

func (d *Deps) canManageClassAndDocument(c *gin.Context, classID, documentID string) error {
	p := middleware.GetPrincipal(c)
	if err := d.Permissions.CanManageClass(c.Request.Context(), p, classID); err != nil {
		return err
	}
	return d.Permissions.CanManageDocument(c.Request.Context(), p, documentID)
}

func HandleAssignDocument(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		classID, documentID := c.Param("id"), c.Param("docId")
		if err := d.canManageClassAndDocument(c, classID, documentID); err != nil {
			respondError(c, err, "Failed to assign document")
			return
		}
		if err := d.Isolation.AssignDocumentToClass(c.Request.Context(), documentID, classID); err != nil {
			respondError(c, err, "Failed to assign document")
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Document assigned", "class_id": classID, "document_id": documentID})
	}
}

func HandleRemoveDocument(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		classID, documentID := c.Param("id"), c.Param("docId")
		if err := d.canManageClassAndDocument(c, classID, documentID); err != nil {
			respondError(c, err, "Failed to remove document")
			return
		}
		if err := d.Isolation.RemoveDocumentFromClass(c.Request.Context(), documentID, classID); err != nil {
			respondError(c, err, "Failed to remove document")
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Document removed", "class_id": classID, "document_id": documentID})
	}
}

type bulkAssignRequest struct {
	DocumentIDs []string `json:"document_ids" binding:"required,min=1,max=100"`
}

// HandleBulkAssign assigns several documents. Documents the caller may not
// manage are reported as failed.
func HandleBulkAssign(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		classID := c.Param("id")
		p := middleware.GetPrincipal(c)

		var req bulkAssignRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "Invalid request data", gin.H{"error": err.Error()})
			return
		}
		if err := d.Permissions.CanManageClass(ctx, p, classID); err != nil {
			respondError(c, err, "Failed to assign documents")
			return
		}

		allowed := make([]string, 0, len(req.DocumentIDs))
		denied := map[string]string{}
		for _, id := range req.DocumentIDs {
			if err := d.Permissions.CanManageDocument(ctx, p, id); err != nil {
				denied[id] = err.Error()
				continue
			}
			allowed = append(allowed, id)
		}

		result := d.Isolation.BulkAssignDocuments(ctx, allowed, classID)
		for id, reason := range denied {
			result.Failed = append(result.Failed, id)
			if result.Errors == nil {
				result.Errors = map[string]string{}
			}
			result.Errors[id] = reason
		}
		result.Total = len(req.DocumentIDs)
		c.JSON(http.StatusOK, result)
	}
}

func HandleMigrateClass(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		fromID, toID := c.Param("id"), c.Param("toId")
		p := middleware.GetPrincipal(c)
		for _, id := range []string{fromID, toID} {
			if err := d.Permissions.CanManageClass(ctx, p, id); err != nil {
				respondError(c, err, "Failed to migrate class documents")
				return
			}
		}

		result, err := d.Isolation.MigrateClassDocuments(ctx, fromID, toID)
		if err != nil {
			respondError(c, err, "Failed to migrate class documents")
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func HandleRebuildIndex(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		classID := c.Param("id")
		if err := d.Permissions.CanManageClass(c.Request.Context(), middleware.GetPrincipal(c), classID); err != nil {
			respondError(c, err, "Failed to rebuild class index")
			return
		}
		if err := d.Isolation.RebuildClassIndex(c.Request.Context(), classID); err != nil {
			respondError(c, err, "Failed to rebuild class index")
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"message":      "Class index rebuilt",
			"class_id":     classID,
			"vector_index": d.Isolation.Registry().GetIndexStats(classID),
		})
	}
}

func HandleClassStats(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		classID := c.Param("id")
		if err := d.Permissions.CanManageClass(ctx, middleware.GetPrincipal(c), classID); err != nil {
			respondError(c, err, "Failed to get class stats")
			return
		}
		docs, err := d.Isolation.GetClassDocuments(ctx, classID)
		if err != nil {
			respondError(c, err, "Failed to get class stats")
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"class_id":           classID,
			"assigned_documents": len(docs),
			"vector_index":       d.Isolation.Registry().GetIndexStats(classID),
		})
	}
}

func HandleClassAudit(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		classID := c.Param("id")
		if err := d.Permissions.CanViewAudit(ctx, middleware.GetPrincipal(c), classID); err != nil {
			respondError(c, err, "Failed to audit class")
			return
		}
		audit, err := d.Isolation.AuditClassIsolation(ctx, classID)
		if err != nil {
			respondError(c, err, "Failed to audit class")
			return
		}
		c.JSON(http.StatusOK, audit)
	}
}

// HandleQueryLogs returns the class's query log, oldest first
func HandleQueryLogs(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		classID := c.Param("id")
		if err := d.Permissions.CanViewAudit(ctx, middleware.GetPrincipal(c), classID); err != nil {
			respondError(c, err, "Failed to query logs")
			return
		}

		limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultLogLimit)))
		if err != nil || limit < 1 || limit > maxLogLimit {
			limit = defaultLogLimit
		}

		logs, err := d.Store.ListQueryLogs(ctx, classID, limit)
		if err != nil {
			respondError(c, err, "Failed to query logs")
			return
		}
		c.JSON(http.StatusOK, gin.H{"class_id": classID, "logs": logs, "total": len(logs)})
	}
}

func HandleVerifyQueryLogs(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		classID := c.Param("id")
		if err := d.Permissions.CanViewAudit(ctx, middleware.GetPrincipal(c), classID); err != nil {
			respondError(c, err, "Failed to verify query log")
			return
		}

		valid, err := d.QueryLogger.VerifyChain(ctx, classID)
		if err != nil {
			respondError(c, err, "Failed to verify query log")
			return
		}

		message := "Query log integrity verified"
		if !valid {
			message = "Query log integrity check failed - possible tampering detected"
		}
		c.JSON(http.StatusOK, gin.H{"class_id": classID, "valid": valid, "message": message})
	}
}

func HandleRemainingQuestions(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		classID := c.Param("id")
		left, err := d.Queries.Remaining(c.Request.Context(), middleware.GetUserID(c), classID)
		if err != nil {
			respondError(c, err, "Failed to get remaining questions")
			return
		}
		c.JSON(http.StatusOK, gin.H{"class_id": classID, "remaining_questions": left})
	}
}

// HandleStudentClasses lists a student's classes. Students only see their own.
func HandleStudentClasses(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		studentID := c.Param("id")
		p := middleware.GetPrincipal(c)
		if p.Role == models.RoleStudent && p.UserID != studentID {
			utils.RespondWithForbidden(c, "Students can only list their own classes")
			return
		}

		classes, err := d.Isolation.GetStudentClasses(c.Request.Context(), studentID)
		if err != nil {
			respondError(c, err, "Failed to get student classes")
			return
		}
		c.JSON(http.StatusOK, gin.H{"student_id": studentID, "classes": classes, "total": len(classes)})
	}
}
