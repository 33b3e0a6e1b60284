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
)

// AccountHandler manages admin endpoints for the account pool.
type AccountHandler struct {
	db *gorm.DB // Database handle for account records.
}

// NewAccountHandler constructs an account handler.
func NewAccountHandler(db *gorm.DB) *AccountHandler {
	return &AccountHandler{db: db}
}

// importAccountEntry is one account in the import payload.
type importAccountEntry struct {
	Email    string `json:"email"`    // Account email, required.
	Password string `json:"password"` // Account password, required.
	APIKey   string `json:"api_key"`  // Optional pre-fetched API key.
	Name     string `json:"name"`     // Optional display name.
	IsPro    bool   `json:"is_pro"`   // Pool the account belongs to.
}

// importAccountsRequest captures the batch import payload.
type importAccountsRequest struct {
	Accounts []importAccountEntry `json:"accounts"` // Accounts to insert.
}

// Import inserts accounts in bulk. Rows with a known email are skipped and
// reported, not failed.
func (h *AccountHandler) Import(c *gin.Context) {
	var body importAccountsRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if len(body.Accounts) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "accounts is required"})
		return
	}

	now := time.Now().UTC()
	imported := 0
	skipped := make([]string, 0)
	for _, entry := range body.Accounts {
		email := strings.TrimSpace(entry.Email)
		if email == "" || entry.Password == "" {
			skipped = append(skipped, email)
			continue
		}

		var count int64
		if errCount := h.db.WithContext(c.Request.Context()).Model(&models.Account{}).
			Where("email = ?", email).
			Count(&count).Error; errCount != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
			return
		}
		if count > 0 {
			skipped = append(skipped, email)
			continue
		}

		account := models.Account{
			Email:     email,
			Password:  entry.Password,
			APIKey:    strings.TrimSpace(entry.APIKey),
			Name:      strings.TrimSpace(entry.Name),
			Status:    models.AccountStatusUnused,
			IsPro:     entry.IsPro,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if errCreate := h.db.WithContext(c.Request.Context()).Create(&account).Error; errCreate != nil {
			skipped = append(skipped, email)
			continue
		}
		imported++
	}

	c.JSON(http.StatusOK, gin.H{"imported": imported, "skipped": skipped})
}

// List returns accounts with optional filters and paging.
func (h *AccountHandler) List(c *gin.Context) {
	q := h.db.WithContext(c.Request.Context()).Model(&models.Account{})

	if status := strings.TrimSpace(c.Query("status")); status != "" {
		q = q.Where("status = ?", status)
	}
	if isPro := strings.TrimSpace(c.Query("is_pro")); isPro == "true" || isPro == "1" {
		q = q.Where("is_pro = ?", true)
	} else if isPro == "false" || isPro == "0" {
		q = q.Where("is_pro = ?", false)
	}
	if search := strings.TrimSpace(c.Query("search")); search != "" {
		pattern := "%" + db.NormalizeLikePattern(h.db, search) + "%"
		q = q.Where(db.CaseInsensitiveLikeExpr(h.db, "email"), pattern)
	}

	var total int64
	if errCount := q.Count(&total).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "count accounts failed"})
		return
	}

	page, pageSize := paginationParams(c)
	var rows []models.Account
	if errFind := q.Order("created_at ASC, id ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list accounts failed"})
		return
	}

	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, h.formatAccount(&row))
	}
	c.JSON(http.StatusOK, gin.H{"accounts": out, "total": total, "page": page, "page_size": pageSize})
}

// updateAccountStatusRequest captures the status update payload.
type updateAccountStatusRequest struct {
	Status string `json:"status"` // New lifecycle status.
}

// UpdateStatus moves an account between lifecycle states, e.g. returning a
// used account to the pool.
func (h *AccountHandler) UpdateStatus(c *gin.Context) {
	id, errParse := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var body updateAccountStatusRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	status := strings.TrimSpace(body.Status)
	switch status {
	case models.AccountStatusUnused, models.AccountStatusUsed, models.AccountStatusExpired:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
		return
	}

	updates := map[string]any{"status": status, "updated_at": time.Now().UTC()}
	if status == models.AccountStatusUnused {
		// Back to the pool: drop the key binding so it can be re-drawn.
		updates["assigned_to_key"] = nil
		updates["assigned_at"] = nil
	}

	res := h.db.WithContext(c.Request.Context()).Model(&models.Account{}).
		Where("id = ?", id).
		Updates(updates)
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

// Delete removes an account.
func (h *AccountHandler) Delete(c *gin.Context) {
	id, errParse := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	res := h.db.WithContext(c.Request.Context()).Delete(&models.Account{}, id)
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

// Get fetches an account by ID.
func (h *AccountHandler) Get(c *gin.Context) {
	id, errParse := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var account models.Account
	if errFind := h.db.WithContext(c.Request.Context()).First(&account, id).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, h.formatAccount(&account))
}

// formatAccount converts an account model into a response payload. The
// password is included: this is the operator console for a credential pool.
func (h *AccountHandler) formatAccount(a *models.Account) gin.H {
	return gin.H{
		"id":              a.ID,
		"email":           a.Email,
		"password":        a.Password,
		"api_key":         a.APIKey,
		"name":            a.Name,
		"status":          a.Status,
		"is_pro":          a.IsPro,
		"assigned_at":     a.AssignedAt,
		"assigned_to_key": a.AssignedToKey,
		"created_at":      a.CreatedAt,
	}
}
