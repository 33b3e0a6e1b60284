// Package client exposes the endpoints consumed by end-user installations:
// account assignment, key status, and the version gate.
package client

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/ziling35/accountpool/internal/allocator"
	handlers "github.com/ziling35/accountpool/internal/http/api/client/handlers"
	"github.com/ziling35/accountpool/internal/ratelimit"
)

// RegisterClientRoutes registers the client API routes and middleware.
func RegisterClientRoutes(r *gin.Engine, db *gorm.DB, alloc *allocator.Allocator, limiter *ratelimit.Manager) {
	if r == nil || db == nil {
		return
	}

	group := r.Group("/api/client")
	group.Use(rateLimitMiddleware(limiter))

	accountHandler := handlers.NewAccountHandler(alloc)
	group.GET("/account", accountHandler.Get)

	keyStatusHandler := handlers.NewKeyStatusHandler(db)
	group.GET("/key/status", keyStatusHandler.Status)

	versionHandler := handlers.NewVersionHandler()
	group.GET("/version", versionHandler.Get)
}

// rateLimitMiddleware throttles requests per client IP using the configured
// limiter backend. A zero limit disables the throttle.
func rateLimitMiddleware(limiter *ratelimit.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		cfg := ratelimit.LoadSettingsConfig()
		if cfg.Limit <= 0 {
			c.Next()
			return
		}
		key := ratelimit.KeyForClientIP(c.ClientIP())
		result, errAllow := limiter.Allow(c.Request.Context(), key, cfg.Limit)
		if errAllow != nil {
			// Fail open on limiter backend errors.
			c.Next()
			return
		}
		if !result.Allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}
