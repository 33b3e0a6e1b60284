package models

import "time"

// TeamConfig stores one managed team and its credit-monitor settings.
type TeamConfig struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Name    string `gorm:"type:text;not null"`       // Display name.
	KeyCode string `gorm:"type:text;not null;index"` // Key code the team serves.

	AdminEmail    string `gorm:"type:text;not null"` // Team admin login email.
	AdminPassword string `gorm:"type:text;not null"` // Team admin login password.
	AdminAPIKey   string `gorm:"type:text"`          // Team admin API key, fetched lazily.
	AdminToken    string `gorm:"type:text"`          // Cached admin token.

	ExternalTeamID string `gorm:"type:text"` // Team identifier on the seat service.

	IsActive             bool `gorm:"not null;default:true;index"` // Whether the monitor runs for this team.
	CreditsThreshold     int  `gorm:"not null;default:20"`         // Switch when credits fall to/below this.
	CheckIntervalMinutes int  `gorm:"not null;default:5"`          // Monitor tick interval.

	CurrentMemberID *uint64 `gorm:""` // Currently active member, if any.

	LastCheckAt  *time.Time `gorm:""`                   // Last monitor tick.
	LastSwitchAt *time.Time `gorm:""`                   // Last failover.
	SwitchCount  int        `gorm:"not null;default:0"` // Cumulative failovers.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// TeamMember stores one team-affiliated account rotated by the monitor.
type TeamMember struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	TeamID uint64 `gorm:"not null;index"` // Owning team config.

	Email    string `gorm:"type:text;not null;index"` // Member login email.
	Password string `gorm:"type:text;not null"`       // Member login password.
	APIKey   string `gorm:"type:text"`                // Member API key, fetched lazily.
	Name     string `gorm:"type:text"`                // Display name.

	IsEnabled   bool `gorm:"not null;default:false"`       // Whether the member may be promoted.
	IsCurrent   bool `gorm:"not null;default:false;index"` // At most one current member per team.
	IsExhausted bool `gorm:"not null;default:false"`       // Sticky once credits hit the threshold.

	LastCredits int        `gorm:"not null;default:0"` // Last observed credit balance.
	LastCheckAt *time.Time `gorm:""`                   // Last credit query.
	EnabledAt   *time.Time `gorm:""`                   // Last promotion timestamp.
	DisabledAt  *time.Time `gorm:""`                   // Last demotion timestamp.

	SortOrder int `gorm:"not null;default:0"` // Promotion order.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
