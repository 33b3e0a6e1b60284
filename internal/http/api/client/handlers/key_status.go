package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/ziling35/accountpool/internal/models"
)

// KeyStatusHandler reports a key's activation state and remaining quota.
type KeyStatusHandler struct {
	db  *gorm.DB         // Database handle for key records.
	now func() time.Time // Injected clock for tests.
}

// NewKeyStatusHandler constructs a key status handler.
func NewKeyStatusHandler(db *gorm.DB) *KeyStatusHandler {
	return &KeyStatusHandler{db: db, now: time.Now}
}

// Status returns the key's state. Querying an inactive key activates it,
// matching first-use activation on assignment.
func (h *KeyStatusHandler) Status(c *gin.Context) {
	keyCode := keyCodeFromRequest(c)
	if keyCode == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "key is required"})
		return
	}
	now := h.now().UTC()

	var key models.Key
	errFind := h.db.WithContext(c.Request.Context()).Where("key_code = ?", keyCode).Take(&key).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "invalid key"})
		return
	}
	if errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	if key.IsDisabled {
		c.JSON(http.StatusForbidden, gin.H{"error": "key disabled"})
		return
	}

	if key.Status == models.KeyStatusInactive {
		activatedAt := now
		expiresAt := now.Add(time.Duration(key.DurationDays) * 24 * time.Hour)
		res := h.db.WithContext(c.Request.Context()).Model(&models.Key{}).
			Where("id = ? AND status = ?", key.ID, models.KeyStatusInactive).
			Updates(map[string]any{
				"status":       models.KeyStatusActive,
				"activated_at": activatedAt,
				"expires_at":   expiresAt,
				"updated_at":   now,
			})
		if res.Error != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "activate key failed"})
			return
		}
		if res.RowsAffected > 0 {
			key.Status = models.KeyStatusActive
			key.ActivatedAt = &activatedAt
			key.ExpiresAt = &expiresAt
		}
	}

	status := key.Status
	remainingSeconds := int64(0)
	if key.ExpiresAt != nil {
		remaining := key.ExpiresAt.Sub(now)
		if remaining <= 0 {
			status = models.KeyStatusExpired
		} else {
			remainingSeconds = int64(remaining.Seconds())
		}
	}

	out := gin.H{
		"key_type":          key.KeyType,
		"status":            status,
		"is_pro":            key.IsPro,
		"activated_at":      key.ActivatedAt,
		"expires_at":        key.ExpiresAt,
		"remaining_seconds": remainingSeconds,
		"request_count":     key.RequestCount,
	}
	if key.KeyType == models.KeyTypeLimited {
		remainingAccounts := key.AccountLimit - key.RequestCount
		if key.AccountLimit <= 0 {
			remainingAccounts = -1
		} else if remainingAccounts < 0 {
			remainingAccounts = 0
		}
		out["account_limit"] = key.AccountLimit
		out["remaining_accounts"] = remainingAccounts
	} else {
		out["daily_request_count"] = key.DailyRequestCount
	}
	c.JSON(http.StatusOK, out)
}
