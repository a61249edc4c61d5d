package models

import (
	"time"
)

// Document represents an uploaded course document
type Document struct {
	ID           string     `bson:"_id" json:"id" gorm:"primaryKey"`
	Name         string     `bson:"name" json:"name"`
	FilePath     string     `bson:"file_path" json:"file_path"`
	FileType     string     `bson:"file_type" json:"file_type"`
	FileSize     int64      `bson:"file_size" json:"file_size"`
	OwnerID      string     `bson:"owner_id" json:"owner_id" gorm:"index"`
	Status       string     `bson:"status" json:"status" gorm:"index"`
	ErrorMessage string     `bson:"error_message,omitempty" json:"error_message,omitempty"`
	PageCount    *int       `bson:"page_count,omitempty" json:"page_count,omitempty"`
	Author       *string    `bson:"author,omitempty" json:"author,omitempty"`
	UploadDate   time.Time  `bson:"upload_date" json:"upload_date"`
	LastIndexed  *time.Time `bson:"last_indexed,omitempty" json:"last_indexed,omitempty"`
}

// Chunk is an immutable slice of a document's extracted text. Chunks are
// regenerated wholesale when a document is reindexed.
type Chunk struct {
	ID         string    `bson:"_id" json:"id" gorm:"primaryKey"`
	DocumentID string    `bson:"document_id" json:"document_id" gorm:"index"`
	Content    string    `bson:"content" json:"content"`
	ChunkIndex int       `bson:"chunk_index" json:"chunk_index"`
	TokenCount int       `bson:"token_count" json:"token_count"`
	PageNumber *int      `bson:"page_number,omitempty" json:"page_number,omitempty"`
	Section    *string   `bson:"section,omitempty" json:"section,omitempty"`
	CreatedAt  time.Time `bson:"created_at" json:"created_at"`
}

func (Chunk) TableName() string { return "document_chunks" }

// Document processing status constants
const (
	DocumentStatusProcessing = "processing"
	DocumentStatusReady      = "ready"
	DocumentStatusError      = "error"
)

// Supported file types
const (
	FileTypePDF  = "pdf"
	FileTypeDOCX = "docx"
	FileTypePPTX = "pptx"
	FileTypeTXT  = "txt"
)

// SupportedFileType reports whether documents of type t can be extracted.
func SupportedFileType(t string) bool {
	switch t {
	case FileTypePDF, FileTypeDOCX, FileTypePPTX, FileTypeTXT:
		return true
	}
	return false
}

// DocumentReference names a document in results
type DocumentReference struct {
	DocumentID   string `json:"document_id"`
	DocumentName string `json:"document_name"`
}

// DocumentDetail is the per-document summary of an isolation audit
type DocumentDetail struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Type   string `json:"type"`
	Status string `json:"status"`
}
