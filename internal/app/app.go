// Package app wires configuration, storage, background loops, and the HTTP
// server into a runnable service.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/ziling35/accountpool/internal/allocator"
	"github.com/ziling35/accountpool/internal/config"
	"github.com/ziling35/accountpool/internal/db"
	"github.com/ziling35/accountpool/internal/failover"
	adminapi "github.com/ziling35/accountpool/internal/http/api/admin"
	clientapi "github.com/ziling35/accountpool/internal/http/api/client"
	"github.com/ziling35/accountpool/internal/ratelimit"
	"github.com/ziling35/accountpool/internal/seatapi"
	internalsettings "github.com/ziling35/accountpool/internal/settings"
)

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, cfg config.AppConfig) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return err
	}
	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	return db.Migrate(conn)
}

// RunServer boots the account pool service: database, settings snapshot,
// credit monitor poller, and the HTTP API.
func RunServer(ctx context.Context, cfg config.AppConfig, defaultPort int) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return err
	}
	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}

	if errRefresh := internalsettings.Refresh(ctx, conn); errRefresh != nil {
		log.WithError(errRefresh).Warn("initial settings refresh failed")
	}
	internalsettings.StartRefresher(ctx, conn)

	if errBootstrap := BootstrapAdminFromEnv(conn); errBootstrap != nil {
		return errBootstrap
	}

	jwtConfig, _ := config.LoadJWTConfig(configPath)
	seatConfig, _ := config.LoadSeatConfig(configPath)
	seat := seatapi.NewClient(seatConfig)

	alloc := allocator.New(conn, seat)
	monitor := failover.NewMonitor(conn, seat)
	failover.NewPoller(conn, monitor).Start(ctx)

	limiter := ratelimit.NewManager(nil, nil, nil)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	clientapi.RegisterClientRoutes(engine, conn, alloc, limiter)
	adminapi.RegisterAdminRoutes(engine, conn, jwtConfig, monitor)

	port := config.LoadServerPort(configPath, defaultPort)
	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{
		Addr:    addr,
		Handler: engine,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if errShutdown := srv.Shutdown(shutdownCtx); errShutdown != nil {
			log.Errorf("server shutdown error: %v", errShutdown)
		}
	}()

	log.Infof("starting account pool server on %s with config=%s", addr, configPath)
	if errListen := srv.ListenAndServe(); errListen != nil && errListen != http.ErrServerClosed {
		return errListen
	}
	return nil
}
