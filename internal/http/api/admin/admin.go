// Package admin registers the operator API: session login, system stats,
// team CRUD, usage resets, per-team request logs, and server log files.
package admin

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tokenrouter/tokenrouter/internal/config"
	"github.com/tokenrouter/tokenrouter/internal/http/api/admin/handlers"
	"github.com/tokenrouter/tokenrouter/internal/security"
	"github.com/tokenrouter/tokenrouter/internal/store"
)

// RegisterAdminRoutes registers the admin API under /admin.
func RegisterAdminRoutes(r *gin.Engine, cfg *config.Config, teams *store.TeamStore) {
	if r == nil || cfg == nil || teams == nil {
		return
	}

	authHandler := handlers.NewAdminAuthHandler(cfg.Admin)
	r.POST("/admin/login", authHandler.Login)

	authed := r.Group("/admin")
	authed.Use(adminAuthMiddleware(cfg.Admin))

	statsHandler := handlers.NewStatsHandler(teams)
	authed.GET("/stats", statsHandler.Overview)

	teamsHandler := handlers.NewTeamsHandler(teams)
	authed.GET("/teams", teamsHandler.List)
	authed.POST("/teams", teamsHandler.Create)
	authed.GET("/teams/:id", teamsHandler.Get)
	authed.PUT("/teams/:id", teamsHandler.Update)
	authed.DELETE("/teams/:id", teamsHandler.Delete)
	authed.POST("/teams/:id/reset-usage", teamsHandler.ResetUsage)
	authed.GET("/teams/:id/logs", teamsHandler.Logs)

	serverLogsHandler := handlers.NewServerLogsHandler(cfg.Logging.Directory)
	authed.GET("/server-logs", serverLogsHandler.List)
	authed.GET("/server-logs/:name", serverLogsHandler.Content)
}

// adminAuthMiddleware accepts either the shared admin password in
// X-Admin-Password or a session JWT from /admin/login.
func adminAuthMiddleware(cfg config.AdminConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if password := c.GetHeader("X-Admin-Password"); password != "" {
			if security.CheckPassword(cfg.Password, password) {
				c.Next()
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid admin password"})
			return
		}

		authHeader := c.GetHeader("Authorization")
		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader || strings.TrimSpace(token) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing admin credentials"})
			return
		}
		if _, errParse := security.ParseAdminToken(cfg.JWTSecret, strings.TrimSpace(token)); errParse != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid session token"})
			return
		}
		c.Next()
	}
}
