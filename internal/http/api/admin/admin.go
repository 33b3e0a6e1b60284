// Package admin wires the management API: admin auth, key and account
// administration, team rotation control, settings, and stats.
package admin

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/ziling35/accountpool/internal/config"
	"github.com/ziling35/accountpool/internal/failover"
	handlers "github.com/ziling35/accountpool/internal/http/api/admin/handlers"
	"github.com/ziling35/accountpool/internal/models"
	"github.com/ziling35/accountpool/internal/security"
)

// RegisterAdminRoutes registers admin routes, middleware, and handlers.
func RegisterAdminRoutes(r *gin.Engine, db *gorm.DB, jwtCfg config.JWTConfig, monitor *failover.Monitor) {
	if r == nil || db == nil {
		return
	}

	healthHandler := handlers.NewHealthHandler(db)
	r.GET("/healthz", healthHandler.Healthz)

	adminGroup := r.Group("/api/admin")

	authHandler := handlers.NewAuthHandler(db, jwtCfg)
	adminGroup.POST("/login", authHandler.Login)

	authed := adminGroup.Group("")
	authed.Use(adminAuthMiddleware(db, jwtCfg))

	authed.PUT("/password", authHandler.ChangePassword)
	authed.POST("/totp/prepare", authHandler.PrepareTOTP)
	authed.POST("/totp/confirm", authHandler.ConfirmTOTP)
	authed.POST("/totp/disable", authHandler.DisableTOTP)

	keyHandler := handlers.NewKeyHandler(db)
	authed.POST("/keys", keyHandler.Create)
	authed.GET("/keys", keyHandler.List)
	authed.GET("/keys/:id", keyHandler.Get)
	authed.PUT("/keys/:id", keyHandler.Update)
	authed.DELETE("/keys/:id", keyHandler.Delete)
	authed.POST("/keys/:id/enable", keyHandler.Enable)
	authed.POST("/keys/:id/disable", keyHandler.Disable)
	authed.GET("/keys/:id/history", keyHandler.History)
	authed.GET("/keys/:id/devices", keyHandler.Devices)

	accountHandler := handlers.NewAccountHandler(db)
	authed.POST("/accounts/import", accountHandler.Import)
	authed.GET("/accounts", accountHandler.List)
	authed.GET("/accounts/:id", accountHandler.Get)
	authed.PUT("/accounts/:id/status", accountHandler.UpdateStatus)
	authed.DELETE("/accounts/:id", accountHandler.Delete)

	teamHandler := handlers.NewTeamHandler(db, monitor)
	authed.POST("/teams", teamHandler.Create)
	authed.GET("/teams", teamHandler.List)
	authed.GET("/teams/:id", teamHandler.Get)
	authed.PUT("/teams/:id", teamHandler.Update)
	authed.DELETE("/teams/:id", teamHandler.Delete)
	authed.POST("/teams/:id/members/import", teamHandler.ImportMembers)
	authed.GET("/teams/:id/members", teamHandler.ListMembers)
	authed.PUT("/teams/:id/members/:member_id", teamHandler.UpdateMember)
	authed.GET("/teams/:id/switch-history", teamHandler.SwitchHistory)
	authed.POST("/teams/:id/check", teamHandler.Check)
	authed.GET("/teams/:id/credits", teamHandler.Credits)

	settingHandler := handlers.NewSettingHandler(db)
	authed.POST("/settings", settingHandler.Create)
	authed.GET("/settings", settingHandler.List)
	authed.GET("/settings/:key", settingHandler.Get)
	authed.PUT("/settings/:key", settingHandler.Update)
	authed.DELETE("/settings/:key", settingHandler.Delete)

	statsHandler := handlers.NewStatsHandler(db)
	authed.GET("/stats", statsHandler.Overview)
}

// adminAuthMiddleware validates admin JWTs and loads admin context.
func adminAuthMiddleware(db *gorm.DB, jwtCfg config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}
		token = strings.TrimSpace(token)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "empty token"})
			return
		}

		claims, errJWT := security.ParseAdminToken(jwtCfg.Secret, token)
		if errJWT != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		var admin models.Admin
		if errFind := db.WithContext(c.Request.Context()).First(&admin, claims.AdminID).Error; errFind != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "admin not found"})
			return
		}

		c.Set("adminID", admin.ID)
		c.Set("adminUsername", admin.Username)
		c.Set("adminIsSuperAdmin", admin.IsSuperAdmin)
		c.Next()
	}
}
