package models

import (
	"time"

	"gorm.io/datatypes"
)

// Setting stores one JSON-valued configuration entry.
type Setting struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Key   string         `gorm:"type:text;not null;uniqueIndex"` // Config key.
	Value datatypes.JSON `gorm:"type:jsonb;not null"`            // JSON value.

	Description string `gorm:"type:text"` // Human-readable hint.

	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
