// Package http wires the public proxy surface and the management APIs onto a
// gin engine.
package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/tokenrouter/tokenrouter/internal/admission"
	"github.com/tokenrouter/tokenrouter/internal/config"
	"github.com/tokenrouter/tokenrouter/internal/store"
)

// ProxyHandler serves the OpenAI-compatible proxy endpoints.
type ProxyHandler struct {
	cfg      *config.Config
	db       *gorm.DB
	pipeline *admission.Pipeline
	teams    *store.TeamStore
}

// NewProxyHandler constructs the proxy handler.
func NewProxyHandler(cfg *config.Config, db *gorm.DB, pipeline *admission.Pipeline, teams *store.TeamStore) *ProxyHandler {
	return &ProxyHandler{cfg: cfg, db: db, pipeline: pipeline, teams: teams}
}

// RegisterProxyRoutes registers the public proxy endpoints.
func RegisterProxyRoutes(r *gin.Engine, cfg *config.Config, db *gorm.DB, pipeline *admission.Pipeline, teams *store.TeamStore) {
	if r == nil {
		return
	}
	h := NewProxyHandler(cfg, db, pipeline, teams)
	r.GET("/", h.Root)
	r.GET("/health", h.Health)
	r.GET("/v1/models", h.Models)
	r.GET("/v1/usage/:username", h.Usage)
	r.POST("/v1/chat/completions", h.ChatCompletions)
}

// writeProxyError emits the OpenAI-style error envelope used on the proxy
// surface.
func writeProxyError(c *gin.Context, status int, detail string) {
	c.JSON(status, gin.H{"error": gin.H{"message": detail}})
}

// ChatCompletions authenticates the caller and runs the admission pipeline,
// relaying the provider body verbatim on success.
func (h *ProxyHandler) ChatCompletions(c *gin.Context) {
	ctx := c.Request.Context()

	team, errAuth := h.pipeline.Authenticate(ctx, c.GetHeader("Authorization"))
	if errAuth != nil {
		var admissionErr *admission.Error
		if errors.As(errAuth, &admissionErr) {
			writeProxyError(c, admissionErr.Status, admissionErr.Detail)
			return
		}
		writeProxyError(c, http.StatusInternalServerError, "Authentication service error")
		return
	}

	raw, errRead := c.GetRawData()
	if errRead != nil {
		writeProxyError(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	var req admission.ChatCompletionRequest
	if errDecode := json.Unmarshal(raw, &req); errDecode != nil {
		writeProxyError(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Model) == "" {
		writeProxyError(c, http.StatusBadRequest, "Model is required")
		return
	}
	if len(req.Messages) == 0 {
		writeProxyError(c, http.StatusBadRequest, "Messages must not be empty")
		return
	}

	response, errProcess := h.pipeline.Process(ctx, team, raw, &req)
	if errProcess != nil {
		var admissionErr *admission.Error
		if errors.As(errProcess, &admissionErr) {
			writeProxyError(c, admissionErr.Status, admissionErr.Detail)
			return
		}
		log.WithError(errProcess).Error("proxy: unexpected pipeline failure")
		writeProxyError(c, http.StatusInternalServerError, "Internal server error")
		return
	}

	c.Data(http.StatusOK, "application/json", response)
}

// Models returns the configured model allowlist as a flat list.
func (h *ProxyHandler) Models(c *gin.Context) {
	c.JSON(http.StatusOK, h.cfg.AllowedModels)
}

// Usage returns a team's quota consumption by name, case-insensitively. An
// unknown name yields an empty object rather than an error.
func (h *ProxyHandler) Usage(c *gin.Context) {
	team, errGet := h.teams.GetByName(c.Request.Context(), c.Param("username"))
	if errGet != nil {
		if errors.Is(errGet, store.ErrTeamNotFound) {
			c.JSON(http.StatusOK, gin.H{})
			return
		}
		log.WithError(errGet).Error("proxy: usage lookup failed")
		writeProxyError(c, http.StatusInternalServerError, "Internal server error")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"name":             team.Name,
		"quota_tokens":     team.QuotaTokens,
		"used_tokens":      team.UsedTokens,
		"remaining_tokens": team.RemainingTokens(),
		"usage_percentage": team.UsagePercentage(),
		"is_active":        team.IsActive,
	})
}

// Health reports database connectivity.
func (h *ProxyHandler) Health(c *gin.Context) {
	sqlDB, errDB := h.db.DB()
	if errDB != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	if errPing := sqlDB.PingContext(c.Request.Context()); errPing != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// Root returns service identification.
func (h *ProxyHandler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service":       "TokenRouter",
		"status":        "running",
		"default_model": h.cfg.DefaultModel,
	})
}
