package models

import "time"

// SwitchReasonCreditsExhausted labels failovers triggered by the credit monitor.
const SwitchReasonCreditsExhausted = "credits_exhausted"

// SwitchHistory records one failover event. Rows are append-only.
type SwitchHistory struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	TeamID uint64 `gorm:"not null;index"` // Team the switch happened in.

	FromMemberID *uint64 `gorm:""`          // Demoted member, nil on bootstrap.
	FromEmail    *string `gorm:"type:text"` // Demoted member email.

	ToMemberID uint64 `gorm:"not null"`           // Promoted member.
	ToEmail    string `gorm:"type:text;not null"` // Promoted member email.

	Reason        string `gorm:"type:text;not null"` // Why the switch happened.
	CreditsBefore *int   `gorm:""`                   // Credits observed before the switch.

	SwitchedAt time.Time `gorm:"not null"` // Switch timestamp.
}
