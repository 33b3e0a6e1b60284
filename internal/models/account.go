package models

import "time"

// Account lifecycle states.
const (
	// AccountStatusUnused marks an account available for assignment.
	AccountStatusUnused = "unused"
	// AccountStatusPending marks an account reserved while a credential fetch is in flight.
	AccountStatusPending = "pending"
	// AccountStatusUsed marks an account assigned to a key.
	AccountStatusUsed = "used"
	// AccountStatusExpired marks an account that idled out before assignment.
	AccountStatusExpired = "expired"
)

// Account stores one pooled credential set distributed to clients.
type Account struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Email    string `gorm:"type:text;not null;uniqueIndex"` // Unique account email.
	Password string `gorm:"type:text;not null"`             // Account password.
	APIKey   string `gorm:"type:text"`                      // API key, fetched lazily on first assignment.
	Name     string `gorm:"type:text"`                      // Display name, fetched lazily.

	Status string `gorm:"type:text;not null;default:'unused';index"` // unused | pending | used | expired.
	IsPro  bool   `gorm:"not null;default:false;index"`              // Pro accounts are repeat-assignable via history.

	AssignedAt    *time.Time `gorm:""`          // When the account was last assigned.
	AssignedToKey *string    `gorm:"type:text"` // Key code holding the account (non-pro only).

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
