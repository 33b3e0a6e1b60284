package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/ziling35/accountpool/internal/models"
)

// StatsHandler serves the dashboard overview counters.
type StatsHandler struct {
	db *gorm.DB // Database handle.
}

// NewStatsHandler constructs a stats handler.
func NewStatsHandler(db *gorm.DB) *StatsHandler {
	return &StatsHandler{db: db}
}

// Overview returns pool, key, and team counters in one payload.
func (h *StatsHandler) Overview(c *gin.Context) {
	ctx := c.Request.Context()
	now := time.Now().UTC()
	midnight := now.Truncate(24 * time.Hour)

	accountCounts, errAccounts := h.countBy(ctx, &models.Account{}, "status")
	if errAccounts != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "count accounts failed"})
		return
	}
	keyCounts, errKeys := h.countBy(ctx, &models.Key{}, "status")
	if errKeys != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "count keys failed"})
		return
	}

	var assignmentsToday int64
	if errToday := h.db.WithContext(ctx).Model(&models.AssignmentHistory{}).
		Where("assigned_at >= ?", midnight).
		Count(&assignmentsToday).Error; errToday != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "count assignments failed"})
		return
	}

	var activeTeams int64
	if errTeams := h.db.WithContext(ctx).Model(&models.TeamConfig{}).
		Where("is_active = ?", true).
		Count(&activeTeams).Error; errTeams != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "count teams failed"})
		return
	}

	var switchesToday int64
	if errSwitches := h.db.WithContext(ctx).Model(&models.SwitchHistory{}).
		Where("switched_at >= ?", midnight).
		Count(&switchesToday).Error; errSwitches != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "count switches failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"accounts":          accountCounts,
		"keys":              keyCounts,
		"assignments_today": assignmentsToday,
		"active_teams":      activeTeams,
		"switches_today":    switchesToday,
	})
}

// countBy groups rows of a model by a column value.
func (h *StatsHandler) countBy(ctx context.Context, model any, column string) (map[string]int64, error) {
	type groupRow struct {
		Value string `gorm:"column:value"`
		Count int64  `gorm:"column:count"`
	}
	var rows []groupRow
	if errScan := h.db.WithContext(ctx).Model(model).
		Select(column + " AS value, COUNT(*) AS count").
		Group(column).
		Scan(&rows).Error; errScan != nil {
		return nil, errScan
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Value] = row.Count
	}
	return out, nil
}
