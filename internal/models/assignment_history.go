package models

import "time"

// AssignmentHistory records one repeatable (pro) assignment event.
// Rows are append-only and never mutated after insert.
type AssignmentHistory struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	KeyCode   string `gorm:"type:text;not null;index"` // Key the account was handed to.
	AccountID uint64 `gorm:"not null;index"`           // Assigned account ID.

	Email    string `gorm:"type:text;not null"` // Account email at assignment time.
	Password string `gorm:"type:text;not null"` // Account password at assignment time.
	APIKey   string `gorm:"type:text"`          // Account API key at assignment time.
	Name     string `gorm:"type:text"`          // Account display name at assignment time.
	IsPro    bool   `gorm:"not null"`           // Pro flag snapshot.

	AssignedAt time.Time `gorm:"not null"` // Assignment timestamp.
}
