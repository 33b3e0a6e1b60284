package db

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ziling35/accountpool/internal/models"
	internalsettings "github.com/ziling35/accountpool/internal/settings"
	"gorm.io/gorm"
)

// Migrate runs database migrations for the current dialect.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	switch DialectName(conn) {
	case DialectSQLite:
		return migrateSQLite(conn)
	case DialectPostgres, "":
		return migratePostgres(conn)
	default:
		return fmt.Errorf("db: unsupported dialect: %s", DialectName(conn))
	}
}

func autoMigrate(conn *gorm.DB) error {
	if errAutoMigrate := conn.AutoMigrate(
		&models.Admin{},
		&models.Account{},
		&models.Key{},
		&models.AssignmentHistory{},
		&models.DeviceBinding{},
		&models.TeamConfig{},
		&models.TeamMember{},
		&models.SwitchHistory{},
		&models.Setting{},
	); errAutoMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errAutoMigrate)
	}
	return nil
}

// migratePostgres applies PostgreSQL-specific schema updates and indexes.
func migratePostgres(conn *gorm.DB) error {
	if errAutoMigrate := autoMigrate(conn); errAutoMigrate != nil {
		return errAutoMigrate
	}

	// One current member per team, enforced at commit time.
	if errCurrentIdx := conn.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_team_members_current
		ON team_members (team_id) WHERE is_current
	`).Error; errCurrentIdx != nil {
		return fmt.Errorf("db: create current member index: %w", errCurrentIdx)
	}

	if errPoolIdx := conn.Exec(`
		CREATE INDEX IF NOT EXISTS idx_accounts_pool
		ON accounts (status, is_pro, created_at)
	`).Error; errPoolIdx != nil {
		return fmt.Errorf("db: create account pool index: %w", errPoolIdx)
	}

	return seedSettings(conn)
}

// migrateSQLite applies SQLite-specific schema updates and indexes.
func migrateSQLite(conn *gorm.DB) error {
	if errAutoMigrate := autoMigrate(conn); errAutoMigrate != nil {
		return errAutoMigrate
	}

	if errCurrentIdx := conn.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_team_members_current
		ON team_members (team_id) WHERE is_current
	`).Error; errCurrentIdx != nil {
		return fmt.Errorf("db: create current member index: %w", errCurrentIdx)
	}

	if errPoolIdx := conn.Exec(`
		CREATE INDEX IF NOT EXISTS idx_accounts_pool
		ON accounts (status, is_pro, created_at)
	`).Error; errPoolIdx != nil {
		return fmt.Errorf("db: create account pool index: %w", errPoolIdx)
	}

	return seedSettings(conn)
}

// seedSettings inserts default setting rows when they are missing.
func seedSettings(conn *gorm.DB) error {
	defaults := []struct {
		key         string
		value       any
		description string
	}{
		{internalsettings.ServerVersionKey, internalsettings.DefaultServerVersion, "server version reported to clients"},
		{internalsettings.MinClientVersionKey, internalsettings.DefaultMinClientVersion, "oldest client version allowed"},
		{internalsettings.UpdateMessageKey, internalsettings.DefaultUpdateMessage, "message shown when an update is required"},
		{internalsettings.AccountExpiryDaysKey, internalsettings.DefaultAccountExpiryDays, "days before an unused account expires"},
		{internalsettings.RateLimitKey, internalsettings.DefaultRateLimit, "client API requests per second per IP (0 = unlimited)"},
		{internalsettings.RateLimitRedisEnabledKey, false, "use redis for client API rate limiting"},
		{internalsettings.RateLimitRedisAddrKey, "", "redis address for rate limiting"},
		{internalsettings.RateLimitRedisPasswordKey, "", "redis password for rate limiting"},
		{internalsettings.RateLimitRedisDBKey, 0, "redis db index for rate limiting"},
		{internalsettings.RateLimitRedisPrefixKey, internalsettings.DefaultRateLimitRedisPrefix, "redis key prefix for rate limiting"},
	}

	for _, item := range defaults {
		var existing models.Setting
		errFind := conn.Where("key = ?", item.key).Take(&existing).Error
		if errFind == nil {
			continue
		}
		if !errors.Is(errFind, gorm.ErrRecordNotFound) {
			return fmt.Errorf("db: read setting %s: %w", item.key, errFind)
		}
		raw, errMarshal := json.Marshal(item.value)
		if errMarshal != nil {
			return fmt.Errorf("db: marshal setting %s: %w", item.key, errMarshal)
		}
		row := models.Setting{Key: item.key, Value: raw, Description: item.description}
		if errCreate := conn.Create(&row).Error; errCreate != nil {
			return fmt.Errorf("db: seed setting %s: %w", item.key, errCreate)
		}
	}
	return nil
}
