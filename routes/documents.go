package routes

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"school-copilot/internal/logger"
	"school-copilot/middleware"
	"school-copilot/models"
	"school-copilot/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func SetupDocumentRoutes(api *gin.RouterGroup, d *Deps) {
	documents := api.Group("/documents")
	documents.GET("/:id", HandleGetDocument(d))

	staff := documents.Group("", middleware.StaffGuard())
	staff.POST("", HandleDocumentUpload(d))
	staff.POST("/:id/index", HandleIndexDocument(d, false))
	staff.POST("/:id/reindex", HandleIndexDocument(d, true))
	staff.DELETE("/:id", HandleDeleteDocument(d))
}

// HandleGetDocument returns the document record. Its status is the
// completion signal of indexing.
func HandleGetDocument(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		documentID := c.Param("id")
		if err := d.Permissions.CanViewDocument(ctx, middleware.GetPrincipal(c), documentID); err != nil {
			respondError(c, err, "Failed to get document")
			return
		}
		doc, err := d.Store.GetDocument(ctx, documentID)
		if err != nil {
			respondError(c, err, "Failed to get document")
			return
		}
		c.JSON(http.StatusOK, doc)
	}
}

// fileSignatures are the leading bytes each upload type must start with
var fileSignatures = map[string][]byte{
	models.FileTypePDF:  []byte("%PDF"),
	models.FileTypeDOCX: []byte("PK\x03\x04"),
	models.FileTypePPTX: []byte("PK\x03\x04"),
}

// HandleDocumentUpload stores an uploaded file, optionally assigns it to
// the classes named in the class_ids form field and dispatches indexing
func HandleDocumentUpload(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		p := middleware.GetPrincipal(c)
		maxSize := d.Config.MaxFileSize

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize+1<<20)
		file, header, err := c.Request.FormFile("file")
		if err != nil {
			utils.RespondWithBadRequest(c, "No file provided", gin.H{"error": err.Error()})
			return
		}
		defer file.Close()

		if header.Size > maxSize {
			utils.RespondWithError(c, http.StatusRequestEntityTooLarge, "file_too_large", "File size exceeds maximum limit", gin.H{"max_bytes": maxSize})
			return
		}

		fileType := strings.TrimPrefix(strings.ToLower(filepath.Ext(header.Filename)), ".")
		if !models.SupportedFileType(fileType) {
			utils.RespondWithBadRequest(c, "Unsupported file type", gin.H{"supported": []string{"pdf", "docx", "pptx", "txt"}})
			return
		}

		if sig, ok := fileSignatures[fileType]; ok {
			head := make([]byte, len(sig))
			if _, err := io.ReadFull(file, head); err != nil || !bytes.Equal(head, sig) {
				utils.RespondWithBadRequest(c, fmt.Sprintf("File does not appear to be a valid %s", strings.ToUpper(fileType)), nil)
				return
			}
			if _, err := file.Seek(0, io.SeekStart); err != nil {
				utils.RespondWithInternalError(c, "Failed to reset file for saving", nil)
				return
			}
		}

		var classIDs []string
		for _, id := range strings.Split(c.PostForm("class_ids"), ",") {
			if id = strings.TrimSpace(id); id != "" {
				classIDs = append(classIDs, id)
			}
		}
		for _, classID := range classIDs {
			if err := d.Permissions.CanManageClass(ctx, p, classID); err != nil {
				respondError(c, err, "Failed to upload document")
				return
			}
		}

		if err := os.MkdirAll(d.Config.UploadDir, 0o755); err != nil {
			utils.RespondWithInternalError(c, "Failed to create upload directory", nil)
			return
		}

		documentID := uuid.NewString()
		path := filepath.Join(d.Config.UploadDir, documentID+"."+fileType)
		if err := saveUpload(file, path, maxSize); err != nil {
			logger.Error("Failed to save upload", "path", path, "error", err)
			utils.RespondWithInternalError(c, "Failed to save file", nil)
			return
		}

		doc := &models.Document{
			ID:         documentID,
			Name:       filepath.Base(header.Filename),
			FilePath:   path,
			FileType:   fileType,
			FileSize:   header.Size,
			OwnerID:    p.UserID,
			Status:     models.DocumentStatusProcessing,
			UploadDate: time.Now().UTC(),
		}
		if err := d.Store.CreateDocument(ctx, doc); err != nil {
			// Clean up file if database insert fails
			_ = os.Remove(path)
			respondError(c, err, "Failed to create document record")
			return
		}

		// Assignments first, so indexing adds the vectors to every class
		for _, classID := range classIDs {
			if err := d.Isolation.AssignDocumentToClass(ctx, documentID, classID); err != nil {
				respondError(c, err, "Failed to assign document")
				return
			}
		}

		if err := d.Indexing.DispatchIndex(ctx, documentID); err != nil {
			respondError(c, err, "Failed to index document")
			return
		}

		if fresh, err := d.Store.GetDocument(ctx, documentID); err == nil {
			doc = fresh
		}
		c.JSON(http.StatusAccepted, gin.H{
			"message":  "Document upload accepted for processing",
			"document": doc,
			"classes":  classIDs,
		})
	}
}

func saveUpload(src io.Reader, path string, maxSize int64) error {
	dst, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, io.LimitReader(src, maxSize)); err != nil {
		dst.Close()
		os.Remove(path)
		return err
	}
	return dst.Close()
}

// HandleIndexDocument dispatches indexing or reindexing of a document
func HandleIndexDocument(d *Deps, reindex bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		documentID := c.Param("id")
		if err := d.Permissions.CanManageDocument(ctx, middleware.GetPrincipal(c), documentID); err != nil {
			respondError(c, err, "Failed to index document")
			return
		}

		dispatch := d.Indexing.DispatchIndex
		if reindex {
			dispatch = d.Indexing.DispatchReindex
		}
		if err := dispatch(ctx, documentID); err != nil {
			respondError(c, err, "Failed to index document")
			return
		}

		doc, err := d.Store.GetDocument(ctx, documentID)
		if err != nil {
			respondError(c, err, "Failed to get document")
			return
		}
		c.JSON(http.StatusAccepted, gin.H{
			"message":     "Indexing dispatched",
			"document_id": documentID,
			"status":      doc.Status,
		})
	}
}

// HandleDeleteDocument removes a document from every class and deletes it
func HandleDeleteDocument(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		documentID := c.Param("id")
		if err := d.Permissions.CanManageDocument(ctx, middleware.GetPrincipal(c), documentID); err != nil {
			respondError(c, err, "Failed to delete document")
			return
		}

		doc, err := d.Isolation.DeleteDocument(ctx, documentID)
		if err != nil {
			respondError(c, err, "Failed to delete document")
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"message":     "Document deleted successfully",
			"document_id": documentID,
			"name":        doc.Name,
		})
	}
}
