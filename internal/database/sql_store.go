package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"school-copilot/models"

	"github.com/glebarez/sqlite"
	postgresdriver "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// SQLStore implements Store on gorm. SQLite serves tests and single-node
// deployments, Postgres serves production.
type SQLStore struct {
	db *gorm.DB
}

// Compile-time check that SQLStore implements Store.
var _ Store = (*SQLStore)(nil)

// OpenSQLStore opens driver ("sqlite" or "postgres") at dsn and migrates
// the schema.
func OpenSQLStore(driver, dsn string) (*SQLStore, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgresdriver.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported sql driver: %s", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	// Every connection to ":memory:" is a separate database
	if driver == "sqlite" && strings.Contains(dsn, ":memory:") {
		sqlDB.SetMaxOpenConns(1)
	}

	return NewSQLStore(db)
}

// NewSQLStore wraps an open gorm connection and migrates the schema
func NewSQLStore(db *gorm.DB) (*SQLStore, error) {
	if err := db.AutoMigrate(
		&models.Document{},
		&models.Chunk{},
		&models.Class{},
		&models.ClassDocument{},
		&models.StudentAccess{},
		&models.User{},
		&models.QueryLog{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (s *SQLStore) CreateDocument(ctx context.Context, doc *models.Document) error {
	return s.db.WithContext(ctx).Create(doc).Error
}

func (s *SQLStore) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	var doc models.Document
	if err := s.db.WithContext(ctx).First(&doc, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &doc, nil
}

func (s *SQLStore) UpdateDocument(ctx context.Context, doc *models.Document) error {
	return s.db.WithContext(ctx).Save(doc).Error
}

func (s *SQLStore) DeleteDocument(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&models.Document{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) ListDocuments(ctx context.Context) ([]models.Document, error) {
	var docs []models.Document
	err := s.db.WithContext(ctx).Order("upload_date, id").Find(&docs).Error
	return docs, err
}

func (s *SQLStore) CreateChunks(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).CreateInBatches(chunks, 100).Error
}

func (s *SQLStore) GetChunks(ctx context.Context, ids []string) ([]models.Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var chunks []models.Chunk
	err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&chunks).Error
	return chunks, err
}

func (s *SQLStore) ListChunksByDocument(ctx context.Context, documentID string) ([]models.Chunk, error) {
	var chunks []models.Chunk
	err := s.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("chunk_index").
		Find(&chunks).Error
	return chunks, err
}

func (s *SQLStore) CountChunksByDocument(ctx context.Context, documentID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Chunk{}).Where("document_id = ?", documentID).Count(&n).Error
	return n, err
}

func (s *SQLStore) DeleteChunksByDocument(ctx context.Context, documentID string) (int64, error) {
	res := s.db.WithContext(ctx).Where("document_id = ?", documentID).Delete(&models.Chunk{})
	return res.RowsAffected, res.Error
}

func (s *SQLStore) DeleteOrphanedChunks(ctx context.Context) (int64, error) {
	docs := s.db.Model(&models.Document{}).Select("id")
	res := s.db.WithContext(ctx).Where("document_id NOT IN (?)", docs).Delete(&models.Chunk{})
	return res.RowsAffected, res.Error
}

func (s *SQLStore) CreateClass(ctx context.Context, class *models.Class) error {
	return s.db.WithContext(ctx).Create(class).Error
}

func (s *SQLStore) GetClass(ctx context.Context, id string) (*models.Class, error) {
	var class models.Class
	if err := s.db.WithContext(ctx).First(&class, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &class, nil
}

func (s *SQLStore) UpdateClass(ctx context.Context, class *models.Class) error {
	return s.db.WithContext(ctx).Save(class).Error
}

func (s *SQLStore) ListClasses(ctx context.Context) ([]models.Class, error) {
	var classes []models.Class
	err := s.db.WithContext(ctx).Order("id").Find(&classes).Error
	return classes, err
}

func (s *SQLStore) AssignDocument(ctx context.Context, classID, documentID string) error {
	edge := models.ClassDocument{ClassID: classID, DocumentID: documentID, AssignedAt: time.Now().UTC()}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&edge).Error
}

func (s *SQLStore) UnassignDocument(ctx context.Context, classID, documentID string) error {
	return s.db.WithContext(ctx).
		Where("class_id = ? AND document_id = ?", classID, documentID).
		Delete(&models.ClassDocument{}).Error
}

func (s *SQLStore) IsAssigned(ctx context.Context, classID, documentID string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.ClassDocument{}).
		Where("class_id = ? AND document_id = ?", classID, documentID).
		Count(&n).Error
	return n > 0, err
}

func (s *SQLStore) ListClassDocuments(ctx context.Context, classID string) ([]models.Document, error) {
	var docs []models.Document
	err := s.db.WithContext(ctx).
		Joins("JOIN class_documents ON class_documents.document_id = documents.id").
		Where("class_documents.class_id = ?", classID).
		Order("documents.upload_date, documents.id").
		Find(&docs).Error
	return docs, err
}

func (s *SQLStore) ListDocumentClassIDs(ctx context.Context, documentID string) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&models.ClassDocument{}).
		Where("document_id = ?", documentID).
		Order("class_id").
		Pluck("class_id", &ids).Error
	return ids, err
}

func (s *SQLStore) DeleteInvalidAssignments(ctx context.Context) (int64, error) {
	docs := s.db.Model(&models.Document{}).Select("id")
	classes := s.db.Model(&models.Class{}).Select("id")
	res := s.db.WithContext(ctx).
		Where("document_id NOT IN (?) OR class_id NOT IN (?)", docs, classes).
		Delete(&models.ClassDocument{})
	return res.RowsAffected, res.Error
}

func (s *SQLStore) UpsertStudentAccess(ctx context.Context, access *models.StudentAccess) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "student_id"}, {Name: "class_id"}},
		UpdateAll: true,
	}).Create(access).Error
}

func (s *SQLStore) GetStudentAccess(ctx context.Context, studentID, classID string) (*models.StudentAccess, error) {
	var access models.StudentAccess
	err := s.db.WithContext(ctx).First(&access, "student_id = ? AND class_id = ?", studentID, classID).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &access, nil
}

func (s *SQLStore) ListStudentAccessByStudent(ctx context.Context, studentID string) ([]models.StudentAccess, error) {
	var rows []models.StudentAccess
	err := s.db.WithContext(ctx).Where("student_id = ?", studentID).Order("class_id").Find(&rows).Error
	return rows, err
}

func (s *SQLStore) ListStudentAccessByClass(ctx context.Context, classID string) ([]models.StudentAccess, error) {
	var rows []models.StudentAccess
	err := s.db.WithContext(ctx).Where("class_id = ?", classID).Order("student_id").Find(&rows).Error
	return rows, err
}

func (s *SQLStore) CreateUser(ctx context.Context, user *models.User) error {
	return s.db.WithContext(ctx).Create(user).Error
}

func (s *SQLStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (s *SQLStore) CreateQueryLog(ctx context.Context, entry *models.QueryLog) error {
	return s.db.WithContext(ctx).Create(entry).Error
}

func (s *SQLStore) LastQueryLog(ctx context.Context, classID string) (*models.QueryLog, error) {
	var entry models.QueryLog
	err := s.db.WithContext(ctx).Where("class_id = ?", classID).Order("sequence DESC").First(&entry).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &entry, nil
}

func (s *SQLStore) ListQueryLogs(ctx context.Context, classID string, limit int) ([]models.QueryLog, error) {
	var rows []models.QueryLog
	q := s.db.WithContext(ctx).Where("class_id = ?", classID).Order("sequence ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&rows).Error
	return rows, err
}

func (s *SQLStore) Close(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
