package models

import "time"

// DeviceBinding records a device bound to a key for max-device enforcement.
type DeviceBinding struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	KeyID    uint64 `gorm:"not null;uniqueIndex:idx_device_bindings_key_device"`           // Bound key ID.
	DeviceID string `gorm:"type:text;not null;uniqueIndex:idx_device_bindings_key_device"` // Client device identifier.

	FirstBoundAt time.Time `gorm:"not null"` // When the device was first bound.
	LastActiveAt time.Time `gorm:"not null"` // Updated on every repeat use.
}
