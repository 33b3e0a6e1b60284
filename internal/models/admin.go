package models

import "time"

// Admin represents a management console operator.
type Admin struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Username string `gorm:"type:text;not null;uniqueIndex"` // Unique login name.
	Password string `gorm:"type:text;not null"`             // Bcrypt hash.

	TOTPSecret   string `gorm:"type:text"`              // TOTP secret for MFA, empty when unset.
	IsSuperAdmin bool   `gorm:"not null;default:false"` // First admin gets super admin.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
