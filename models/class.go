package models

import (
	"time"
)

// DefaultDailyQuestionLimit applies when a class is created without a limit
const DefaultDailyQuestionLimit = 50

// Class is the unit of isolation. Students of a class may only retrieve
// content from documents assigned to it.
type Class struct {
	ID                 string    `bson:"_id" json:"id" gorm:"primaryKey"`
	Name               string    `bson:"name" json:"name"`
	TeacherID          string    `bson:"teacher_id" json:"teacher_id" gorm:"index"`
	Enabled            bool      `bson:"enabled" json:"enabled"`
	DailyQuestionLimit int       `bson:"daily_question_limit" json:"daily_question_limit"`
	BlockedTerms       []string  `bson:"blocked_terms,omitempty" json:"blocked_terms,omitempty" gorm:"serializer:json"`
	CreatedAt          time.Time `bson:"created_at" json:"created_at"`
}

// ClassDocument is the assignment edge between a class and a document.
// A chunk embedding lives in a class's vector index iff its document is
// assigned to that class.
type ClassDocument struct {
	ClassID    string    `bson:"class_id" json:"class_id" gorm:"primaryKey"`
	DocumentID string    `bson:"document_id" json:"document_id" gorm:"primaryKey;index"`
	AssignedAt time.Time `bson:"assigned_at" json:"assigned_at"`
}

// StudentAccess grants a student access to a class and tracks the daily
// question quota.
type StudentAccess struct {
	StudentID          string     `bson:"student_id" json:"student_id" gorm:"primaryKey"`
	ClassID            string     `bson:"class_id" json:"class_id" gorm:"primaryKey;index"`
	Enabled            bool       `bson:"enabled" json:"enabled"`
	DailyQuestionCount int        `bson:"daily_question_count" json:"daily_question_count"`
	LastQuestionDate   *time.Time `bson:"last_question_date,omitempty" json:"last_question_date,omitempty"`
	CreatedAt          time.Time  `bson:"created_at" json:"created_at"`
}

func (StudentAccess) TableName() string { return "student_access" }
