// Package app wires configuration, storage, the admission pipeline, and the
// HTTP surfaces into a runnable server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/tokenrouter/tokenrouter/internal/admission"
	"github.com/tokenrouter/tokenrouter/internal/config"
	"github.com/tokenrouter/tokenrouter/internal/db"
	relayhttp "github.com/tokenrouter/tokenrouter/internal/http"
	"github.com/tokenrouter/tokenrouter/internal/http/api/admin"
	"github.com/tokenrouter/tokenrouter/internal/http/api/register"
	"github.com/tokenrouter/tokenrouter/internal/logging"
	"github.com/tokenrouter/tokenrouter/internal/ratelimit"
	"github.com/tokenrouter/tokenrouter/internal/security"
	"github.com/tokenrouter/tokenrouter/internal/store"
	"github.com/tokenrouter/tokenrouter/internal/upstream"
	"github.com/tokenrouter/tokenrouter/internal/usage"
)

// shutdownGrace bounds how long in-flight requests get on shutdown.
const shutdownGrace = 10 * time.Second

// Migrate opens the database and runs migrations, then exits.
func Migrate(ctx context.Context, configPath string) error {
	cfg, errLoad := config.Load(configPath)
	if errLoad != nil {
		return errLoad
	}
	conn, errOpen := db.Open(cfg.DatabaseURL)
	if errOpen != nil {
		return errOpen
	}
	return db.Migrate(conn)
}

// RunServer boots the proxy with all surfaces registered and blocks until the
// context is cancelled.
func RunServer(ctx context.Context, configPath string) error {
	cfg, errLoad := config.Load(configPath)
	if errLoad != nil {
		return errLoad
	}
	if errSetup := logging.Setup(cfg.Logging); errSetup != nil {
		return fmt.Errorf("app: configure logging: %w", errSetup)
	}

	if strings.TrimSpace(cfg.Admin.JWTSecret) == "" {
		// Sessions stay valid only for this process lifetime.
		secret, errGen := security.GenerateRandomString(64)
		if errGen != nil {
			return fmt.Errorf("app: generate session secret: %w", errGen)
		}
		cfg.Admin.JWTSecret = secret
	}

	conn, errOpen := db.Open(cfg.DatabaseURL)
	if errOpen != nil {
		return errOpen
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}

	limiter, errLimiter := buildLimiter(cfg)
	if errLimiter != nil {
		return errLimiter
	}
	defer func() {
		if errClose := limiter.Close(); errClose != nil {
			log.WithError(errClose).Warn("app: limiter close failed")
		}
	}()

	teams := store.NewTeamStore(conn)
	pipeline := admission.NewPipeline(cfg, teams, limiter, upstream.NewForwarder(cfg.Provider), usage.NewRecorder(conn))

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger())

	relayhttp.RegisterProxyRoutes(engine, cfg, conn, pipeline, teams)
	admin.RegisterAdminRoutes(engine, cfg, teams)
	register.RegisterRoutes(engine, cfg.Registration, teams)

	server := &http.Server{
		Addr:    cfg.Addr(),
		Handler: engine,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("listening on %s", cfg.Addr())
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if errShutdown := server.Shutdown(shutdownCtx); errShutdown != nil {
			return fmt.Errorf("app: shutdown: %w", errShutdown)
		}
		return nil
	case errServe := <-errCh:
		if errors.Is(errServe, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", errServe)
	}
}

// buildLimiter selects the rate limiter backend from config.
func buildLimiter(cfg *config.Config) (ratelimit.Limiter, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.RateLimit.Backend)) {
	case "", "memory":
		return ratelimit.NewMemoryLimiter(), nil
	case "redis":
		return ratelimit.NewRedisLimiter(cfg.RateLimit.RedisAddr), nil
	default:
		return nil, fmt.Errorf("app: unsupported rate-limit backend: %s", cfg.RateLimit.Backend)
	}
}

// requestLogger logs each request with method, path, status, and latency.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(log.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		}).Info("request")
	}
}
