package models

import "time"

// Key lifecycle states.
const (
	// KeyStatusInactive marks a key that has never been used.
	KeyStatusInactive = "inactive"
	// KeyStatusActive marks a key within its validity window.
	KeyStatusActive = "active"
	// KeyStatusExpired marks a key past its expiry.
	KeyStatusExpired = "expired"
)

// Key quota kinds.
const (
	// KeyTypeUnlimited has no account cap but a cooldown and daily limit.
	KeyTypeUnlimited = "unlimited"
	// KeyTypeLimited caps the total number of accounts drawn.
	KeyTypeLimited = "limited"
)

// Key stores a license key record that clients redeem for accounts.
type Key struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	KeyCode string `gorm:"type:text;not null;uniqueIndex"`            // Unique key code.
	KeyType string `gorm:"type:text;not null;default:'limited'"`      // unlimited | limited.
	Status  string `gorm:"type:text;not null;default:'inactive'"`    // inactive | active | expired.
	IsPro   bool   `gorm:"not null;default:false"`                    // Whether the key draws from the pro pool.

	DurationDays int  `gorm:"not null"`               // Validity in days from activation.
	IsDisabled   bool `gorm:"not null;default:false"` // Administrative disable flag.

	ActivatedAt *time.Time `gorm:""` // Set on first use.
	ExpiresAt   *time.Time `gorm:""` // ActivatedAt + DurationDays.

	RequestCount  int        `gorm:"not null;default:0"` // Total successful assignments.
	LastRequestAt *time.Time `gorm:""`                   // Durable cooldown anchor.
	LastRequestIP string     `gorm:"type:text"`          // Client IP of last assignment.

	AccountLimit      int        `gorm:"not null;default:0"` // Max accounts for limited keys (0 = uncapped).
	DailyRequestCount int        `gorm:"not null;default:0"` // Assignments today (unlimited keys).
	LastResetDate     *time.Time `gorm:"type:date"`          // Last daily counter reset (UTC date).

	MaxDevices int `gorm:"not null;default:0"` // Device cap (0 = unenforced).

	TeamID *uint64 `gorm:"index"` // Owning team config, if any.

	Notes string `gorm:"type:text"` // Admin notes.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
