package app

import (
	"fmt"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/ziling35/accountpool/internal/models"
	"github.com/ziling35/accountpool/internal/security"
)

// Environment variables for first-boot admin bootstrap.
const (
	EnvAdminUsername = "ADMIN_USERNAME"
	EnvAdminPassword = "ADMIN_PASSWORD"
)

// ConfigExists reports whether the config file exists at the path.
func ConfigExists(configPath string) bool {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return false
	}
	return true
}

// HasAdminInitialized reports whether the system has at least one admin account.
func HasAdminInitialized(conn *gorm.DB) (bool, error) {
	if conn == nil {
		return false, fmt.Errorf("nil db")
	}
	if !conn.Migrator().HasTable(&models.Admin{}) {
		return false, nil
	}
	var count int64
	if errCount := conn.Model(&models.Admin{}).Count(&count).Error; errCount != nil {
		return false, errCount
	}
	return count > 0, nil
}

// BootstrapAdminFromEnv creates the first admin from ADMIN_USERNAME and
// ADMIN_PASSWORD when no admin exists yet. Missing variables on a fresh
// database are an error: the service would be unmanageable.
func BootstrapAdminFromEnv(conn *gorm.DB) error {
	initialized, errCheck := HasAdminInitialized(conn)
	if errCheck != nil {
		return errCheck
	}
	if initialized {
		return nil
	}

	username := strings.TrimSpace(os.Getenv(EnvAdminUsername))
	password := os.Getenv(EnvAdminPassword)
	if username == "" || password == "" {
		return fmt.Errorf("no admin account exists: set %s and %s for first boot", EnvAdminUsername, EnvAdminPassword)
	}
	if errCreate := CreateAdminUserWithConn(conn, username, password); errCreate != nil {
		return errCreate
	}
	log.Infof("created initial admin account %q", username)
	return nil
}

// CreateAdminUserWithConn creates an admin account. The first admin becomes
// super admin.
func CreateAdminUserWithConn(conn *gorm.DB, username, password string) error {
	if conn == nil {
		return fmt.Errorf("open database: nil connection")
	}
	if len(password) < 6 {
		return fmt.Errorf("admin password must be at least 6 characters")
	}

	hashedPassword, errHash := security.HashPassword(password)
	if errHash != nil {
		return fmt.Errorf("hash password: %w", errHash)
	}

	var count int64
	if errCount := conn.Model(&models.Admin{}).Count(&count).Error; errCount != nil {
		return fmt.Errorf("count admins: %w", errCount)
	}

	now := time.Now().UTC()
	admin := models.Admin{
		Username:     username,
		Password:     hashedPassword,
		IsSuperAdmin: count == 0,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if errCreate := conn.Create(&admin).Error; errCreate != nil {
		return fmt.Errorf("create admin: %w", errCreate)
	}
	return nil
}
