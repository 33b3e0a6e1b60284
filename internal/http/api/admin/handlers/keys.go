package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/ziling35/accountpool/internal/db"
	"github.com/ziling35/accountpool/internal/models"
	"github.com/ziling35/accountpool/internal/security"
)

// KeyHandler manages admin CRUD endpoints for license keys.
type KeyHandler struct {
	db *gorm.DB // Database handle for key records.
}

// NewKeyHandler constructs a key handler.
func NewKeyHandler(db *gorm.DB) *KeyHandler {
	return &KeyHandler{db: db}
}

// createKeysRequest captures the payload for batch key creation.
type createKeysRequest struct {
	Count        int    `json:"count"`         // Number of keys to generate, default 1.
	KeyType      string `json:"key_type"`      // unlimited | limited.
	DurationDays int    `json:"duration_days"` // Validity in days from activation.
	IsPro        bool   `json:"is_pro"`        // Draw from the pro pool.
	AccountLimit int    `json:"account_limit"` // Account cap for limited keys.
	MaxDevices   int    `json:"max_devices"`   // Device cap, 0 disables the gate.
	Notes        string `json:"notes"`         // Admin notes.
}

// Create generates a batch of keys.
func (h *KeyHandler) Create(c *gin.Context) {
	var body createKeysRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	count := body.Count
	if count <= 0 {
		count = 1
	}
	if count > 1000 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "count too large"})
		return
	}

	keyType := strings.TrimSpace(body.KeyType)
	if keyType == "" {
		keyType = models.KeyTypeLimited
	}
	if keyType != models.KeyTypeLimited && keyType != models.KeyTypeUnlimited {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid key_type"})
		return
	}
	if body.DurationDays <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "duration_days must be positive"})
		return
	}
	if keyType == models.KeyTypeLimited && body.AccountLimit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "account_limit cannot be negative"})
		return
	}

	now := time.Now().UTC()
	rows := make([]models.Key, 0, count)
	for i := 0; i < count; i++ {
		rows = append(rows, models.Key{
			KeyCode:      security.GenerateKeyCode(),
			KeyType:      keyType,
			Status:       models.KeyStatusInactive,
			IsPro:        body.IsPro,
			DurationDays: body.DurationDays,
			AccountLimit: body.AccountLimit,
			MaxDevices:   body.MaxDevices,
			Notes:        body.Notes,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	}
	if errCreate := h.db.WithContext(c.Request.Context()).Create(&rows).Error; errCreate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create keys failed"})
		return
	}

	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, h.formatKey(&row))
	}
	c.JSON(http.StatusCreated, gin.H{"keys": out})
}

// List returns keys with optional status/type/search filters and paging.
func (h *KeyHandler) List(c *gin.Context) {
	q := h.db.WithContext(c.Request.Context()).Model(&models.Key{})

	if status := strings.TrimSpace(c.Query("status")); status != "" {
		q = q.Where("status = ?", status)
	}
	if keyType := strings.TrimSpace(c.Query("key_type")); keyType != "" {
		q = q.Where("key_type = ?", keyType)
	}
	if isPro := strings.TrimSpace(c.Query("is_pro")); isPro == "true" || isPro == "1" {
		q = q.Where("is_pro = ?", true)
	} else if isPro == "false" || isPro == "0" {
		q = q.Where("is_pro = ?", false)
	}
	if search := strings.TrimSpace(c.Query("search")); search != "" {
		pattern := "%" + db.NormalizeLikePattern(h.db, search) + "%"
		q = q.Where("("+db.CaseInsensitiveLikeExpr(h.db, "key_code")+" OR "+db.CaseInsensitiveLikeExpr(h.db, "notes")+")", pattern, pattern)
	}

	var total int64
	if errCount := q.Count(&total).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "count keys failed"})
		return
	}

	page, pageSize := paginationParams(c)
	var rows []models.Key
	if errFind := q.Order("created_at DESC, id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list keys failed"})
		return
	}

	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, h.formatKey(&row))
	}
	c.JSON(http.StatusOK, gin.H{"keys": out, "total": total, "page": page, "page_size": pageSize})
}

// Get fetches a key by ID.
func (h *KeyHandler) Get(c *gin.Context) {
	id, errParse := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var key models.Key
	if errFind := h.db.WithContext(c.Request.Context()).First(&key, id).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, h.formatKey(&key))
}

// updateKeyRequest captures optional fields for key updates.
type updateKeyRequest struct {
	DurationDays *int    `json:"duration_days"` // Optional validity change.
	AccountLimit *int    `json:"account_limit"` // Optional account cap change.
	MaxDevices   *int    `json:"max_devices"`   // Optional device cap change.
	Notes        *string `json:"notes"`         // Optional notes change.
}

// Update applies key field updates. Extending duration_days on an active
// key also pushes expires_at out.
func (h *KeyHandler) Update(c *gin.Context) {
	id, errParse := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var body updateKeyRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	var existing models.Key
	if errFind := h.db.WithContext(c.Request.Context()).First(&existing, id).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}

	updates := map[string]any{"updated_at": time.Now().UTC()}
	if body.DurationDays != nil {
		if *body.DurationDays <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "duration_days must be positive"})
			return
		}
		updates["duration_days"] = *body.DurationDays
		if existing.ActivatedAt != nil {
			updates["expires_at"] = existing.ActivatedAt.Add(time.Duration(*body.DurationDays) * 24 * time.Hour)
		}
	}
	if body.AccountLimit != nil {
		if *body.AccountLimit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "account_limit cannot be negative"})
			return
		}
		updates["account_limit"] = *body.AccountLimit
	}
	if body.MaxDevices != nil {
		if *body.MaxDevices < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "max_devices cannot be negative"})
			return
		}
		updates["max_devices"] = *body.MaxDevices
	}
	if body.Notes != nil {
		updates["notes"] = *body.Notes
	}

	if errUpdate := h.db.WithContext(c.Request.Context()).Model(&models.Key{}).
		Where("id = ?", id).
		Updates(updates).Error; errUpdate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Delete removes a key.
func (h *KeyHandler) Delete(c *gin.Context) {
	id, errParse := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	res := h.db.WithContext(c.Request.Context()).Delete(&models.Key{}, id)
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

// Enable clears a key's disabled flag.
func (h *KeyHandler) Enable(c *gin.Context) {
	h.setDisabled(c, false)
}

// Disable sets a key's disabled flag.
func (h *KeyHandler) Disable(c *gin.Context) {
	h.setDisabled(c, true)
}

func (h *KeyHandler) setDisabled(c *gin.Context, disabled bool) {
	id, errParse := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	res := h.db.WithContext(c.Request.Context()).Model(&models.Key{}).
		Where("id = ?", id).
		Updates(map[string]any{"is_disabled": disabled, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// History lists assignment history rows for a key, newest first.
func (h *KeyHandler) History(c *gin.Context) {
	id, errParse := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var key models.Key
	if errFind := h.db.WithContext(c.Request.Context()).First(&key, id).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}

	var rows []models.AssignmentHistory
	if errFind := h.db.WithContext(c.Request.Context()).
		Where("key_code = ?", key.KeyCode).
		Order("assigned_at DESC, id DESC").
		Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list history failed"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, gin.H{
			"account_id":  row.AccountID,
			"email":       row.Email,
			"name":        row.Name,
			"is_pro":      row.IsPro,
			"assigned_at": row.AssignedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"history": out})
}

// Devices lists device bindings for a key.
func (h *KeyHandler) Devices(c *gin.Context) {
	id, errParse := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var rows []models.DeviceBinding
	if errFind := h.db.WithContext(c.Request.Context()).
		Where("key_id = ?", id).
		Order("first_bound_at ASC").
		Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list devices failed"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, gin.H{
			"device_id":      row.DeviceID,
			"first_bound_at": row.FirstBoundAt,
			"last_active_at": row.LastActiveAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"devices": out})
}

// formatKey converts a key model into a response payload.
func (h *KeyHandler) formatKey(k *models.Key) gin.H {
	return gin.H{
		"id":                  k.ID,
		"key_code":            k.KeyCode,
		"key_type":            k.KeyType,
		"status":              k.Status,
		"is_pro":              k.IsPro,
		"duration_days":       k.DurationDays,
		"is_disabled":         k.IsDisabled,
		"activated_at":        k.ActivatedAt,
		"expires_at":          k.ExpiresAt,
		"request_count":       k.RequestCount,
		"last_request_at":     k.LastRequestAt,
		"last_request_ip":     k.LastRequestIP,
		"account_limit":       k.AccountLimit,
		"daily_request_count": k.DailyRequestCount,
		"max_devices":         k.MaxDevices,
		"notes":               k.Notes,
		"created_at":          k.CreatedAt,
	}
}

// paginationParams reads page/page_size query params with sane bounds.
func paginationParams(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(strings.TrimSpace(c.Query("page")))
	if page <= 0 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(strings.TrimSpace(c.Query("page_size")))
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 200 {
		pageSize = 200
	}
	return page, pageSize
}
