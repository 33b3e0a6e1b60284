package settings

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/ziling35/accountpool/internal/models"
)

const defaultRefreshInterval = 30 * time.Second

type snapshot struct {
	updatedAt time.Time
	values    map[string]json.RawMessage
}

var globalSnapshot atomic.Value

func init() {
	globalSnapshot.Store(snapshot{values: make(map[string]json.RawMessage)})
}

// DBConfigValue returns the raw JSON value for a settings key, if present.
func DBConfigValue(key string) (json.RawMessage, bool) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, false
	}
	snap, ok := globalSnapshot.Load().(snapshot)
	if !ok || snap.values == nil {
		return nil, false
	}
	raw, found := snap.values[key]
	if !found || len(raw) == 0 {
		return nil, false
	}
	return raw, true
}

// StringValue returns a settings value decoded as a string, or the fallback.
func StringValue(key, fallback string) string {
	raw, ok := DBConfigValue(key)
	if !ok {
		return fallback
	}
	var parsed string
	if errUnmarshal := json.Unmarshal(raw, &parsed); errUnmarshal != nil {
		return fallback
	}
	if strings.TrimSpace(parsed) == "" {
		return fallback
	}
	return parsed
}

// IntValue returns a settings value decoded as an int, or the fallback.
func IntValue(key string, fallback int) int {
	raw, ok := DBConfigValue(key)
	if !ok {
		return fallback
	}
	var parsed int
	if errUnmarshal := json.Unmarshal(raw, &parsed); errUnmarshal != nil {
		return fallback
	}
	return parsed
}

// Refresh replaces the in-memory snapshot with the current settings rows.
func Refresh(ctx context.Context, conn *gorm.DB) error {
	if conn == nil {
		return nil
	}
	var rows []models.Setting
	if errFind := conn.WithContext(ctx).Find(&rows).Error; errFind != nil {
		return errFind
	}
	next := make(map[string]json.RawMessage, len(rows))
	for _, row := range rows {
		key := strings.TrimSpace(row.Key)
		if key == "" || len(row.Value) == 0 {
			continue
		}
		next[key] = json.RawMessage(row.Value)
	}
	globalSnapshot.Store(snapshot{updatedAt: time.Now().UTC(), values: next})
	return nil
}

// StartRefresher keeps the snapshot synced with the database in the background.
func StartRefresher(ctx context.Context, conn *gorm.DB) {
	if conn == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		ticker := time.NewTicker(defaultRefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if errRefresh := Refresh(ctx, conn); errRefresh != nil {
					log.WithError(errRefresh).Warn("settings: refresh failed")
				}
			}
		}
	}()
}
