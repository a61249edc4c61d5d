package models

import (
	"time"
)

type User struct {
	ID        string    `bson:"_id" json:"id" gorm:"primaryKey"`
	Email     string    `bson:"email" json:"email" gorm:"index"`
	Name      string    `bson:"name" json:"name"`
	Role      string    `bson:"role" json:"role"`
	Active    bool      `bson:"active" json:"active"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}

// User roles
const (
	RoleAdmin   = "admin"
	RoleTeacher = "teacher"
	RoleStudent = "student"
)
