package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// QueryLog is an immutable record of a student question. Entries of one
// class form a hash chain so tampering with history is detectable.
type QueryLog struct {
	ID             string    `bson:"_id" json:"id" gorm:"primaryKey"`
	Sequence       int64     `bson:"sequence" json:"sequence" gorm:"index"`
	StudentID      string    `bson:"student_id" json:"student_id" gorm:"index"`
	ClassID        string    `bson:"class_id" json:"class_id" gorm:"index"`
	QueryText      string    `bson:"query_text" json:"query_text"`
	ResponseTimeMS int64     `bson:"response_time_ms" json:"response_time_ms"`
	Success        bool      `bson:"success" json:"success"`
	CitationCount  int       `bson:"citation_count" json:"citation_count"`
	Confidence     float64   `bson:"confidence" json:"confidence"`
	ErrorMessage   string    `bson:"error_message,omitempty" json:"error_message,omitempty"`
	PreviousHash   string    `bson:"previous_hash" json:"previous_hash"`
	CurrentHash    string    `bson:"current_hash" json:"current_hash"`
	Timestamp      time.Time `bson:"timestamp" json:"timestamp" gorm:"column:logged_at;index"`
}

// ComputeHash computes the hash of this entry over its chained fields
func (l *QueryLog) ComputeHash() string {
	data := fmt.Sprintf("%d|%s|%s|%s|%s|%t|%d|%s",
		l.Sequence,
		l.Timestamp.UTC().Format(time.RFC3339Nano),
		l.StudentID,
		l.ClassID,
		l.QueryText,
		l.Success,
		l.CitationCount,
		l.PreviousHash,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// Isolation status values
const (
	IsolationSecure  = "SECURE"
	IsolationWarning = "WARNING"
)

// IndexStats describes a class's vector index
type IndexStats struct {
	Exists       bool `json:"exists"`
	TotalVectors int  `json:"total_vectors"`
	Dimension    int  `json:"dimension"`
	ChunkCount   int  `json:"chunk_count"`
}

// PotentialLeak is a document outside a class that has indexed content
type PotentialLeak struct {
	DocumentID   string `json:"document_id"`
	DocumentName string `json:"document_name"`
	ChunkCount   int64  `json:"chunk_count"`
}

// IndexLeak is a vector in a class index whose document is not assigned
// to that class
type IndexLeak struct {
	ChunkID    string `json:"chunk_id"`
	DocumentID string `json:"document_id"`
}

// IsolationAudit is the computed isolation report of one class
type IsolationAudit struct {
	ClassID           string           `json:"class_id"`
	ClassName         string           `json:"class_name"`
	ClassEnabled      bool             `json:"class_enabled"`
	AssignedDocuments int              `json:"assigned_documents"`
	DocumentDetails   []DocumentDetail `json:"document_details"`
	EnabledStudents   int              `json:"enabled_students"`
	TotalStudents     int              `json:"total_students"`
	VectorIndex       IndexStats       `json:"vector_index"`
	IsolationStatus   string           `json:"isolation_status"`
	PotentialLeaks    []PotentialLeak  `json:"potential_leaks"`
	IndexLeaks        []IndexLeak      `json:"index_leaks"`
	StaleVectors      int              `json:"stale_vectors"`
	AuditedAt         time.Time        `json:"audited_at"`
}

// QueryIsolation is the result of an isolation probe for one student and class
type QueryIsolation struct {
	Allowed             bool     `json:"allowed"`
	Reason              string   `json:"reason"`
	AccessibleDocuments []string `json:"accessible_documents"`
	DocumentCount       int      `json:"document_count"`
	VectorIndexSize     int      `json:"vector_index_size"`
	ClassEnabled        bool     `json:"class_enabled"`
	ReachableChunks     []string `json:"reachable_chunks,omitempty"`
}

// BulkAssignResult reports a bulk assignment
type BulkAssignResult struct {
	Successful []string          `json:"successful"`
	Failed     []string          `json:"failed"`
	Errors     map[string]string `json:"errors,omitempty"`
	Total      int               `json:"total"`
}

// MigrationResult reports a class-to-class migration
type MigrationResult struct {
	Migrated []DocumentReference `json:"migrated"`
	Failed   []DocumentReference `json:"failed"`
	Total    int                 `json:"total"`
}

// CleanupResult reports an orphan cleanup run
type CleanupResult struct {
	OrphanedChunks     int64 `json:"orphaned_chunks"`
	EmptyIndexes       int   `json:"empty_indexes"`
	StaleIndexes       int   `json:"stale_indexes"`
	DroppedIndexes     int   `json:"dropped_indexes"`
	InvalidAssignments int64 `json:"invalid_assignments"`
}
