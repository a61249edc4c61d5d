package database

import (
	"context"
	"errors"
	"fmt"

	"school-copilot/internal/config"
	"school-copilot/models"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("record not found")

// Store is the relational source of truth for documents, chunks, classes,
// assignments, student access and query logs. Class vector indexes are
// derived from it.
type Store interface {
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	UpdateDocument(ctx context.Context, doc *models.Document) error
	// DeleteDocument removes the document row only. Its chunks and
	// assignments become orphans for CleanupOrphanedData.
	DeleteDocument(ctx context.Context, id string) error
	ListDocuments(ctx context.Context) ([]models.Document, error)

	CreateChunks(ctx context.Context, chunks []models.Chunk) error
	GetChunks(ctx context.Context, ids []string) ([]models.Chunk, error)
	// ListChunksByDocument returns chunks ordered by chunk index
	ListChunksByDocument(ctx context.Context, documentID string) ([]models.Chunk, error)
	CountChunksByDocument(ctx context.Context, documentID string) (int64, error)
	DeleteChunksByDocument(ctx context.Context, documentID string) (int64, error)
	DeleteOrphanedChunks(ctx context.Context) (int64, error)

	CreateClass(ctx context.Context, class *models.Class) error
	GetClass(ctx context.Context, id string) (*models.Class, error)
	UpdateClass(ctx context.Context, class *models.Class) error
	ListClasses(ctx context.Context) ([]models.Class, error)

	AssignDocument(ctx context.Context, classID, documentID string) error
	UnassignDocument(ctx context.Context, classID, documentID string) error
	IsAssigned(ctx context.Context, classID, documentID string) (bool, error)
	ListClassDocuments(ctx context.Context, classID string) ([]models.Document, error)
	ListDocumentClassIDs(ctx context.Context, documentID string) ([]string, error)
	DeleteInvalidAssignments(ctx context.Context) (int64, error)

	UpsertStudentAccess(ctx context.Context, access *models.StudentAccess) error
	GetStudentAccess(ctx context.Context, studentID, classID string) (*models.StudentAccess, error)
	ListStudentAccessByStudent(ctx context.Context, studentID string) ([]models.StudentAccess, error)
	ListStudentAccessByClass(ctx context.Context, classID string) ([]models.StudentAccess, error)

	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)

	CreateQueryLog(ctx context.Context, entry *models.QueryLog) error
	// LastQueryLog returns the newest log entry of a class
	LastQueryLog(ctx context.Context, classID string) (*models.QueryLog, error)
	// ListQueryLogs returns a class's log oldest first. limit <= 0 means all.
	ListQueryLogs(ctx context.Context, classID string, limit int) ([]models.QueryLog, error)

	Close(ctx context.Context) error
}

// Open returns the store selected by STORE_DRIVER
func Open(cfg *config.Config) (Store, error) {
	switch cfg.StoreDriver {
	case "mongo":
		client, err := config.ConnectMongoDB(cfg)
		if err != nil {
			return nil, err
		}
		store, err := NewMongoStore(client, cfg.DBName)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "sqlite", "postgres":
		store, err := OpenSQLStore(cfg.StoreDriver, cfg.SQLDSN)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store driver: %s", cfg.StoreDriver)
	}
}
