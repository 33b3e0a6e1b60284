package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/ziling35/accountpool/internal/failover"
	"github.com/ziling35/accountpool/internal/models"
)

// TeamHandler manages admin endpoints for teams and their members.
type TeamHandler struct {
	db      *gorm.DB          // Database handle for team records.
	monitor *failover.Monitor // Credit monitor for manual checks.
}

// NewTeamHandler constructs a team handler.
func NewTeamHandler(db *gorm.DB, monitor *failover.Monitor) *TeamHandler {
	return &TeamHandler{db: db, monitor: monitor}
}

// createTeamRequest captures the payload for creating a team.
type createTeamRequest struct {
	Name                 string `json:"name"`                   // Display name.
	KeyCode              string `json:"key_code"`               // Key code the team serves.
	AdminEmail           string `json:"admin_email"`            // Team admin login email.
	AdminPassword        string `json:"admin_password"`         // Team admin login password.
	ExternalTeamID       string `json:"external_team_id"`       // Team id on the seat service.
	CreditsThreshold     *int   `json:"credits_threshold"`      // Optional threshold, default 20.
	CheckIntervalMinutes *int   `json:"check_interval_minutes"` // Optional interval, default 5.
}

// Create inserts a new team config.
func (h *TeamHandler) Create(c *gin.Context) {
	var body createTeamRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	name := strings.TrimSpace(body.Name)
	adminEmail := strings.TrimSpace(body.AdminEmail)
	if name == "" || adminEmail == "" || body.AdminPassword == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name, admin_email and admin_password are required"})
		return
	}

	team := models.TeamConfig{
		Name:                 name,
		KeyCode:              strings.TrimSpace(body.KeyCode),
		AdminEmail:           adminEmail,
		AdminPassword:        body.AdminPassword,
		ExternalTeamID:       strings.TrimSpace(body.ExternalTeamID),
		IsActive:             true,
		CreditsThreshold:     20,
		CheckIntervalMinutes: 5,
	}
	if body.CreditsThreshold != nil && *body.CreditsThreshold >= 0 {
		team.CreditsThreshold = *body.CreditsThreshold
	}
	if body.CheckIntervalMinutes != nil && *body.CheckIntervalMinutes > 0 {
		team.CheckIntervalMinutes = *body.CheckIntervalMinutes
	}

	if errCreate := h.db.WithContext(c.Request.Context()).Create(&team).Error; errCreate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create team failed"})
		return
	}
	c.JSON(http.StatusCreated, h.formatTeam(&team))
}

// List returns all teams.
func (h *TeamHandler) List(c *gin.Context) {
	var rows []models.TeamConfig
	if errFind := h.db.WithContext(c.Request.Context()).
		Order("created_at ASC, id ASC").
		Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list teams failed"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, h.formatTeam(&row))
	}
	c.JSON(http.StatusOK, gin.H{"teams": out})
}

// Get fetches a team by ID.
func (h *TeamHandler) Get(c *gin.Context) {
	team, ok := h.loadTeam(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.formatTeam(team))
}

// updateTeamRequest captures optional fields for team updates.
type updateTeamRequest struct {
	Name                 *string `json:"name"`                   // Optional name.
	KeyCode              *string `json:"key_code"`               // Optional served key code.
	AdminEmail           *string `json:"admin_email"`            // Optional admin email.
	AdminPassword        *string `json:"admin_password"`         // Optional admin password.
	ExternalTeamID       *string `json:"external_team_id"`       // Optional external id.
	IsActive             *bool   `json:"is_active"`              // Optional monitor toggle.
	CreditsThreshold     *int    `json:"credits_threshold"`      // Optional threshold.
	CheckIntervalMinutes *int    `json:"check_interval_minutes"` // Optional interval.
}

// Update applies team field updates.
func (h *TeamHandler) Update(c *gin.Context) {
	team, ok := h.loadTeam(c)
	if !ok {
		return
	}
	var body updateTeamRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	updates := map[string]any{"updated_at": time.Now().UTC()}
	if body.Name != nil {
		name := strings.TrimSpace(*body.Name)
		if name == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "name cannot be empty"})
			return
		}
		updates["name"] = name
	}
	if body.KeyCode != nil {
		updates["key_code"] = strings.TrimSpace(*body.KeyCode)
	}
	if body.AdminEmail != nil {
		updates["admin_email"] = strings.TrimSpace(*body.AdminEmail)
	}
	if body.AdminPassword != nil {
		updates["admin_password"] = *body.AdminPassword
		// Stale token and key follow the old credentials.
		updates["admin_token"] = ""
		updates["admin_api_key"] = ""
	}
	if body.ExternalTeamID != nil {
		updates["external_team_id"] = strings.TrimSpace(*body.ExternalTeamID)
	}
	if body.IsActive != nil {
		updates["is_active"] = *body.IsActive
	}
	if body.CreditsThreshold != nil {
		if *body.CreditsThreshold < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "credits_threshold cannot be negative"})
			return
		}
		updates["credits_threshold"] = *body.CreditsThreshold
	}
	if body.CheckIntervalMinutes != nil {
		if *body.CheckIntervalMinutes <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "check_interval_minutes must be positive"})
			return
		}
		updates["check_interval_minutes"] = *body.CheckIntervalMinutes
	}

	if errUpdate := h.db.WithContext(c.Request.Context()).Model(&models.TeamConfig{}).
		Where("id = ?", team.ID).
		Updates(updates).Error; errUpdate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Delete removes a team and its members and history.
func (h *TeamHandler) Delete(c *gin.Context) {
	id, errParse := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	errTx := h.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&models.TeamConfig{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		if errMembers := tx.Where("team_id = ?", id).Delete(&models.TeamMember{}).Error; errMembers != nil {
			return errMembers
		}
		return tx.Where("team_id = ?", id).Delete(&models.SwitchHistory{}).Error
	})
	if errors.Is(errTx, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	if errTx != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

// importMemberEntry is one member in the import payload.
type importMemberEntry struct {
	Email     string `json:"email"`      // Member login email, required.
	Password  string `json:"password"`   // Member login password, required.
	Name      string `json:"name"`       // Optional display name.
	SortOrder int    `json:"sort_order"` // Promotion order.
}

// importMembersRequest captures the member import payload.
type importMembersRequest struct {
	Members []importMemberEntry `json:"members"` // Members to insert.
}

// ImportMembers inserts team members in bulk. Duplicate emails within the
// team are skipped.
func (h *TeamHandler) ImportMembers(c *gin.Context) {
	team, ok := h.loadTeam(c)
	if !ok {
		return
	}
	var body importMembersRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if len(body.Members) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "members is required"})
		return
	}

	imported := 0
	skipped := make([]string, 0)
	for _, entry := range body.Members {
		email := strings.TrimSpace(entry.Email)
		if email == "" || entry.Password == "" {
			skipped = append(skipped, email)
			continue
		}

		var count int64
		if errCount := h.db.WithContext(c.Request.Context()).Model(&models.TeamMember{}).
			Where("team_id = ? AND email = ?", team.ID, email).
			Count(&count).Error; errCount != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
			return
		}
		if count > 0 {
			skipped = append(skipped, email)
			continue
		}

		member := models.TeamMember{
			TeamID:    team.ID,
			Email:     email,
			Password:  entry.Password,
			Name:      strings.TrimSpace(entry.Name),
			IsEnabled: true,
			SortOrder: entry.SortOrder,
		}
		if errCreate := h.db.WithContext(c.Request.Context()).Create(&member).Error; errCreate != nil {
			skipped = append(skipped, email)
			continue
		}
		imported++
	}
	c.JSON(http.StatusOK, gin.H{"imported": imported, "skipped": skipped})
}

// ListMembers returns a team's members in promotion order.
func (h *TeamHandler) ListMembers(c *gin.Context) {
	team, ok := h.loadTeam(c)
	if !ok {
		return
	}
	var rows []models.TeamMember
	if errFind := h.db.WithContext(c.Request.Context()).
		Where("team_id = ?", team.ID).
		Order("sort_order ASC, id ASC").
		Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list members failed"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, gin.H{
			"id":            row.ID,
			"email":         row.Email,
			"name":          row.Name,
			"is_enabled":    row.IsEnabled,
			"is_current":    row.IsCurrent,
			"is_exhausted":  row.IsExhausted,
			"last_credits":  row.LastCredits,
			"last_check_at": row.LastCheckAt,
			"sort_order":    row.SortOrder,
		})
	}
	c.JSON(http.StatusOK, gin.H{"members": out})
}

// updateMemberRequest captures optional fields for member updates.
type updateMemberRequest struct {
	IsEnabled      *bool `json:"is_enabled"`      // Optional promotion eligibility.
	SortOrder      *int  `json:"sort_order"`      // Optional promotion order.
	ResetExhausted *bool `json:"reset_exhausted"` // Clear the sticky exhausted flag.
}

// UpdateMember edits a member's rotation settings. Resetting the exhausted
// flag puts the member back in the promotion order.
func (h *TeamHandler) UpdateMember(c *gin.Context) {
	memberID, errParse := strconv.ParseUint(strings.TrimSpace(c.Param("member_id")), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid member id"})
		return
	}
	var body updateMemberRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	updates := map[string]any{"updated_at": time.Now().UTC()}
	if body.IsEnabled != nil {
		updates["is_enabled"] = *body.IsEnabled
	}
	if body.SortOrder != nil {
		updates["sort_order"] = *body.SortOrder
	}
	if body.ResetExhausted != nil && *body.ResetExhausted {
		updates["is_exhausted"] = false
	}

	res := h.db.WithContext(c.Request.Context()).Model(&models.TeamMember{}).
		Where("id = ?", memberID).
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

// SwitchHistory lists a team's failover events, newest first.
func (h *TeamHandler) SwitchHistory(c *gin.Context) {
	team, ok := h.loadTeam(c)
	if !ok {
		return
	}
	var rows []models.SwitchHistory
	if errFind := h.db.WithContext(c.Request.Context()).
		Where("team_id = ?", team.ID).
		Order("switched_at DESC, id DESC").
		Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list switch history failed"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, gin.H{
			"from_member_id": row.FromMemberID,
			"from_email":     row.FromEmail,
			"to_member_id":   row.ToMemberID,
			"to_email":       row.ToEmail,
			"reason":         row.Reason,
			"credits_before": row.CreditsBefore,
			"switched_at":    row.SwitchedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"history": out})
}

// Check triggers one credit check for a team outside its timer.
func (h *TeamHandler) Check(c *gin.Context) {
	team, ok := h.loadTeam(c)
	if !ok {
		return
	}
	if h.monitor == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "monitor not running"})
		return
	}
	result, errCheck := h.monitor.CheckAndMaybeSwitch(c.Request.Context(), team.ID)
	if errCheck != nil {
		var transient *failover.TransientError
		if errors.As(errCheck, &transient) {
			c.JSON(http.StatusBadGateway, gin.H{"error": "credit check failed, will retry"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "check failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"action":    string(result.Action),
		"member_id": result.MemberID,
		"credits":   result.Credits,
	})
}

// Credits returns the team's balance seen through the team admin account.
func (h *TeamHandler) Credits(c *gin.Context) {
	team, ok := h.loadTeam(c)
	if !ok {
		return
	}
	if h.monitor == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "monitor not running"})
		return
	}
	credits, errCredits := h.monitor.TeamCredits(c.Request.Context(), team.ID)
	if errCredits != nil {
		var transient *failover.TransientError
		if errors.As(errCredits, &transient) {
			c.JSON(http.StatusBadGateway, gin.H{"error": "credit query failed, will retry"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "credit query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"credits": credits})
}

// loadTeam resolves the :id path param to a team, writing the error reply
// itself when it fails.
func (h *TeamHandler) loadTeam(c *gin.Context) (*models.TeamConfig, bool) {
	id, errParse := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return nil, false
	}
	var team models.TeamConfig
	if errFind := h.db.WithContext(c.Request.Context()).First(&team, id).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return nil, false
	}
	return &team, true
}

// formatTeam converts a team model into a response payload.
func (h *TeamHandler) formatTeam(t *models.TeamConfig) gin.H {
	return gin.H{
		"id":                     t.ID,
		"name":                   t.Name,
		"key_code":               t.KeyCode,
		"admin_email":            t.AdminEmail,
		"external_team_id":       t.ExternalTeamID,
		"is_active":              t.IsActive,
		"credits_threshold":      t.CreditsThreshold,
		"check_interval_minutes": t.CheckIntervalMinutes,
		"current_member_id":      t.CurrentMemberID,
		"last_check_at":          t.LastCheckAt,
		"last_switch_at":         t.LastSwitchAt,
		"switch_count":           t.SwitchCount,
		"created_at":             t.CreatedAt,
	}
}
