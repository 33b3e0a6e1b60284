// Package allocator assigns pooled accounts to license keys. Selection is
// FIFO by creation time, deduplicated per key, and claimed through
// status-guarded conditional updates so concurrent requests never hand the
// same account to two keys.
package allocator

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	internaldb "github.com/ziling35/accountpool/internal/db"
	"github.com/ziling35/accountpool/internal/models"
	"github.com/ziling35/accountpool/internal/seatapi"
	internalsettings "github.com/ziling35/accountpool/internal/settings"
)

const (
	// cooldownWindow is the minimum gap between assignments for unlimited keys.
	cooldownWindow = 5 * time.Minute
	// dailyAssignLimit caps assignments per UTC day for unlimited keys.
	dailyAssignLimit = 20
)

// Assignment is the credential set returned to a client.
type Assignment struct {
	Email    string
	Password string
	APIKey   string
	Name     string
}

// Allocator hands out pooled accounts to license keys.
type Allocator struct {
	db   *gorm.DB
	seat seatapi.Service
	now  func() time.Time
}

// New constructs an Allocator.
func New(db *gorm.DB, seat seatapi.Service) *Allocator {
	return &Allocator{db: db, seat: seat, now: time.Now}
}

// Assign resolves the key, enforces its gates, claims the oldest eligible
// unused account, lazily fetches a missing API key, and commits the
// assignment. deviceID may be empty when the key has no device cap.
func (a *Allocator) Assign(ctx context.Context, keyCode, deviceID, clientIP string) (*Assignment, error) {
	if a == nil || a.db == nil {
		return nil, newError(KindInternal, "allocator not initialized")
	}
	now := a.now().UTC()

	key, errKey := a.resolveKey(ctx, keyCode, now)
	if errKey != nil {
		return nil, errKey
	}

	if errDevice := a.checkDevice(ctx, key, deviceID, now); errDevice != nil {
		return nil, errDevice
	}

	if errGate := a.checkQuota(ctx, key, now); errGate != nil {
		return nil, errGate
	}

	if errSweep := a.expireIdleAccounts(ctx, now); errSweep != nil {
		log.WithError(errSweep).Warn("allocator: idle account sweep failed")
	}

	account, errClaim := a.claimAccount(ctx, key)
	if errClaim != nil {
		return nil, errClaim
	}

	if account.APIKey == "" {
		if errFetch := a.fetchAPIKey(ctx, account); errFetch != nil {
			return nil, errFetch
		}
	}

	if errCommit := a.commit(ctx, key, account, clientIP, now); errCommit != nil {
		return nil, errCommit
	}

	return &Assignment{
		Email:    account.Email,
		Password: account.Password,
		APIKey:   account.APIKey,
		Name:     account.Name,
	}, nil
}

// resolveKey loads the key, activates it on first use, and rejects disabled
// or expired keys.
func (a *Allocator) resolveKey(ctx context.Context, keyCode string, now time.Time) (*models.Key, error) {
	var key models.Key
	errFind := a.db.WithContext(ctx).Where("key_code = ?", keyCode).Take(&key).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, newError(KindNotFound, "unknown key")
	}
	if errFind != nil {
		return nil, wrapError(KindInternal, "load key", errFind)
	}

	if key.IsDisabled {
		return nil, newError(KindKeyDisabled, "key disabled by administrator")
	}

	if key.Status == models.KeyStatusInactive {
		activatedAt := now
		expiresAt := now.Add(time.Duration(key.DurationDays) * 24 * time.Hour)
		res := a.db.WithContext(ctx).Model(&models.Key{}).
			Where("id = ? AND status = ?", key.ID, models.KeyStatusInactive).
			Updates(map[string]any{
				"status":       models.KeyStatusActive,
				"activated_at": activatedAt,
				"expires_at":   expiresAt,
				"updated_at":   now,
			})
		if res.Error != nil {
			return nil, wrapError(KindInternal, "activate key", res.Error)
		}
		if res.RowsAffected > 0 {
			key.Status = models.KeyStatusActive
			key.ActivatedAt = &activatedAt
			key.ExpiresAt = &expiresAt
		} else if errReload := a.db.WithContext(ctx).Take(&key, key.ID).Error; errReload != nil {
			return nil, wrapError(KindInternal, "reload key", errReload)
		}
	}

	if key.ExpiresAt != nil && !now.Before(*key.ExpiresAt) {
		if key.Status != models.KeyStatusExpired {
			_ = a.db.WithContext(ctx).Model(&models.Key{}).
				Where("id = ?", key.ID).
				Updates(map[string]any{"status": models.KeyStatusExpired, "updated_at": now}).Error
		}
		return nil, newError(KindKeyExpired, "key expired")
	}

	return &key, nil
}

// checkDevice enforces the key's device cap. Known devices bump their
// last-active timestamp; new devices bind only below the cap.
func (a *Allocator) checkDevice(ctx context.Context, key *models.Key, deviceID string, now time.Time) error {
	if key.MaxDevices <= 0 {
		return nil
	}
	if deviceID == "" {
		return newError(KindDeviceLimit, "device id required for this key")
	}

	var binding models.DeviceBinding
	errFind := a.db.WithContext(ctx).
		Where("key_id = ? AND device_id = ?", key.ID, deviceID).
		Take(&binding).Error
	if errFind == nil {
		return a.db.WithContext(ctx).Model(&models.DeviceBinding{}).
			Where("id = ?", binding.ID).
			Update("last_active_at", now).Error
	}
	if !errors.Is(errFind, gorm.ErrRecordNotFound) {
		return wrapError(KindInternal, "load device binding", errFind)
	}

	var bound int64
	if errCount := a.db.WithContext(ctx).Model(&models.DeviceBinding{}).
		Where("key_id = ?", key.ID).
		Count(&bound).Error; errCount != nil {
		return wrapError(KindInternal, "count device bindings", errCount)
	}
	if bound >= int64(key.MaxDevices) {
		return newError(KindDeviceLimit, fmt.Sprintf("device limit reached (%d)", key.MaxDevices))
	}

	row := models.DeviceBinding{
		KeyID:        key.ID,
		DeviceID:     deviceID,
		FirstBoundAt: now,
		LastActiveAt: now,
	}
	if errCreate := a.db.WithContext(ctx).Create(&row).Error; errCreate != nil {
		// A concurrent bind for the same device is fine; anything else is not.
		if !internaldb.IsUniqueViolation(errCreate) {
			return wrapError(KindInternal, "bind device", errCreate)
		}
	}
	return nil
}

// checkQuota enforces the per-key cooldown, daily limit, and account cap.
// The cooldown anchor is the durable last_request_at column, so the limit
// survives restarts and horizontal scaling.
func (a *Allocator) checkQuota(ctx context.Context, key *models.Key, now time.Time) error {
	switch key.KeyType {
	case models.KeyTypeUnlimited:
		today := now.Truncate(24 * time.Hour)
		if key.LastResetDate == nil || !key.LastResetDate.Equal(today) {
			if errReset := a.db.WithContext(ctx).Model(&models.Key{}).
				Where("id = ?", key.ID).
				Updates(map[string]any{
					"daily_request_count": 0,
					"last_reset_date":     today,
					"updated_at":          now,
				}).Error; errReset != nil {
				return wrapError(KindInternal, "reset daily counter", errReset)
			}
			key.DailyRequestCount = 0
			key.LastResetDate = &today
		}
		if key.DailyRequestCount >= dailyAssignLimit {
			return &Error{
				Kind:       KindRateLimited,
				Message:    fmt.Sprintf("daily limit reached (%d), resets at midnight UTC", dailyAssignLimit),
				RetryAfter: today.Add(24 * time.Hour).Sub(now),
			}
		}
		if key.LastRequestAt != nil {
			elapsed := now.Sub(*key.LastRequestAt)
			if elapsed < cooldownWindow {
				return &Error{
					Kind:       KindRateLimited,
					Message:    "too many requests",
					RetryAfter: cooldownWindow - elapsed,
				}
			}
		}
	default: // limited
		if key.AccountLimit > 0 && key.RequestCount >= key.AccountLimit {
			return newError(KindQuotaExhausted, "key quota exhausted")
		}
	}
	return nil
}

// expireIdleAccounts marks unused accounts past the idle expiry as expired.
func (a *Allocator) expireIdleAccounts(ctx context.Context, now time.Time) error {
	days := internalsettings.IntValue(internalsettings.AccountExpiryDaysKey, internalsettings.DefaultAccountExpiryDays)
	if days <= 0 {
		return nil
	}
	threshold := now.Add(-time.Duration(days) * 24 * time.Hour)
	return a.db.WithContext(ctx).Model(&models.Account{}).
		Where("status = ? AND created_at < ?", models.AccountStatusUnused, threshold).
		Updates(map[string]any{"status": models.AccountStatusExpired, "updated_at": now}).Error
}

// claimAccount selects the oldest eligible unused account and reserves it
// with a status-guarded update. A lost race re-runs selection once before
// surfacing contention.
func (a *Allocator) claimAccount(ctx context.Context, key *models.Key) (*models.Account, error) {
	for attempt := 0; attempt < 2; attempt++ {
		account, errSelect := a.selectCandidate(ctx, key)
		if errSelect != nil {
			return nil, errSelect
		}

		res := a.db.WithContext(ctx).Model(&models.Account{}).
			Where("id = ? AND status = ?", account.ID, models.AccountStatusUnused).
			Update("status", models.AccountStatusPending)
		if res.Error != nil {
			return nil, wrapError(KindInternal, "claim account", res.Error)
		}
		if res.RowsAffected == 1 {
			account.Status = models.AccountStatusPending
			return account, nil
		}
		// Another assignment claimed this row between selection and update.
	}
	return nil, newError(KindContention, "assignment contention, try again")
}

// selectCandidate picks the oldest unused account matching the key's pool
// that was never assigned to this key before.
func (a *Allocator) selectCandidate(ctx context.Context, key *models.Key) (*models.Account, error) {
	query := a.db.WithContext(ctx).
		Where("status = ? AND is_pro = ?", models.AccountStatusUnused, key.IsPro).
		Order("created_at ASC, id ASC")

	if key.IsPro {
		query = query.Where(
			"id NOT IN (?)",
			a.db.Model(&models.AssignmentHistory{}).Select("account_id").Where("key_code = ?", key.KeyCode),
		)
	} else {
		query = query.Where("assigned_to_key IS NULL OR assigned_to_key <> ?", key.KeyCode)
	}

	var account models.Account
	errFind := query.Take(&account).Error
	if errFind == nil {
		return &account, nil
	}
	if !errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, wrapError(KindInternal, "select account", errFind)
	}

	// Nothing eligible: tell the caller whether the pool is empty or merely
	// exhausted for this key. The distinction matters to clients.
	var unused int64
	if errCount := a.db.WithContext(ctx).Model(&models.Account{}).
		Where("status = ? AND is_pro = ?", models.AccountStatusUnused, key.IsPro).
		Count(&unused).Error; errCount != nil {
		return nil, wrapError(KindInternal, "count unused accounts", errCount)
	}
	if unused == 0 {
		return nil, newError(KindNoAccounts, "no accounts available")
	}
	return nil, newError(KindNoNewAccount, "no new account available for this key")
}

// fetchAPIKey runs the lazy login/exchange flow for a reserved account.
// On failure the reservation is released so a retry can pick any account.
func (a *Allocator) fetchAPIKey(ctx context.Context, account *models.Account) error {
	if a.seat == nil {
		a.release(ctx, account)
		return newError(KindAuthFailure, "seat service not configured")
	}

	apiKey, errLogin := a.seat.LoginAndCreateAPIKey(ctx, account.Email, account.Password)
	if errLogin != nil {
		a.release(ctx, account)
		var authErr *seatapi.AuthError
		if errors.As(errLogin, &authErr) {
			return wrapError(KindAuthFailure, string(authErr.Kind), errLogin)
		}
		return wrapError(KindAuthFailure, "login failed", errLogin)
	}

	if errSave := a.db.WithContext(ctx).Model(&models.Account{}).
		Where("id = ?", account.ID).
		Update("api_key", apiKey).Error; errSave != nil {
		a.release(ctx, account)
		return wrapError(KindInternal, "persist api key", errSave)
	}
	account.APIKey = apiKey
	return nil
}

// release returns a reserved account to the unused pool.
func (a *Allocator) release(ctx context.Context, account *models.Account) {
	if errRelease := a.db.WithContext(ctx).Model(&models.Account{}).
		Where("id = ? AND status = ?", account.ID, models.AccountStatusPending).
		Update("status", models.AccountStatusUnused).Error; errRelease != nil {
		log.WithError(errRelease).Warn("allocator: release reserved account failed")
	}
}

// commit finalizes the assignment and updates key counters in one
// transaction. Pro accounts go back to the unused pool with a history row;
// non-pro accounts are bound to the key.
func (a *Allocator) commit(ctx context.Context, key *models.Key, account *models.Account, clientIP string, now time.Time) error {
	errTx := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if key.IsPro {
			res := tx.Model(&models.Account{}).
				Where("id = ? AND status = ?", account.ID, models.AccountStatusPending).
				Updates(map[string]any{
					"status":      models.AccountStatusUnused,
					"assigned_at": now,
					"updated_at":  now,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return errors.New("reserved account lost")
			}
			history := models.AssignmentHistory{
				KeyCode:    key.KeyCode,
				AccountID:  account.ID,
				Email:      account.Email,
				Password:   account.Password,
				APIKey:     account.APIKey,
				Name:       account.Name,
				IsPro:      true,
				AssignedAt: now,
			}
			if errHistory := tx.Create(&history).Error; errHistory != nil {
				return errHistory
			}
		} else {
			res := tx.Model(&models.Account{}).
				Where("id = ? AND status = ?", account.ID, models.AccountStatusPending).
				Updates(map[string]any{
					"status":          models.AccountStatusUsed,
					"assigned_at":     now,
					"assigned_to_key": key.KeyCode,
					"updated_at":      now,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return errors.New("reserved account lost")
			}
		}

		keyUpdates := map[string]any{
			"request_count":   gorm.Expr("request_count + 1"),
			"last_request_at": now,
			"last_request_ip": clientIP,
			"updated_at":      now,
		}
		if key.KeyType == models.KeyTypeUnlimited {
			keyUpdates["daily_request_count"] = gorm.Expr("daily_request_count + 1")
		}
		return tx.Model(&models.Key{}).Where("id = ?", key.ID).Updates(keyUpdates).Error
	})
	if errTx != nil {
		a.release(ctx, account)
		return wrapError(KindInternal, "commit assignment", errTx)
	}
	return nil
}
