// Package register implements self-service team registration.
package register

import (
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/tokenrouter/tokenrouter/internal/config"
	"github.com/tokenrouter/tokenrouter/internal/models"
	"github.com/tokenrouter/tokenrouter/internal/security"
	"github.com/tokenrouter/tokenrouter/internal/store"
)

var (
	usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]{3,50}$`)
	emailPattern    = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

// Handler serves the public registration endpoint.
type Handler struct {
	cfg   config.RegistrationConfig
	teams *store.TeamStore
}

// NewHandler constructs a registration Handler.
func NewHandler(cfg config.RegistrationConfig, teams *store.TeamStore) *Handler {
	return &Handler{cfg: cfg, teams: teams}
}

// RegisterRoutes registers the public registration endpoint.
func RegisterRoutes(r *gin.Engine, cfg config.RegistrationConfig, teams *store.TeamStore) {
	if r == nil || teams == nil {
		return
	}
	h := NewHandler(cfg, teams)
	r.POST("/register", h.Register)
}

// registerRequest is the self-registration body.
type registerRequest struct {
	Username   string `json:"username"`    // Team name, [A-Za-z0-9_]{3,50}.
	Email      string `json:"email"`       // Contact email.
	AccessCode string `json:"access_code"` // Operator-issued code, when codes are configured.
}

// Register creates a team with the registration defaults and returns the
// bearer token. The token is only ever shown in this response.
func (h *Handler) Register(c *gin.Context) {
	if !h.cfg.Enabled {
		c.JSON(http.StatusForbidden, gin.H{"error": "registration is disabled"})
		return
	}

	var req registerRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if len(h.cfg.AccessCodes) > 0 && !h.codeAccepted(req.AccessCode) {
		c.JSON(http.StatusForbidden, gin.H{"error": "invalid access code"})
		return
	}

	username := strings.TrimSpace(req.Username)
	if !usernamePattern.MatchString(username) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username must be 3-50 characters of letters, digits, or underscores"})
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if !emailPattern.MatchString(email) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid email address"})
		return
	}
	if !h.domainAllowed(email) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email domain is not allowed"})
		return
	}

	token, errGen := security.GenerateTeamToken()
	if errGen != nil {
		log.WithError(errGen).Error("register: token generation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}

	quota := h.cfg.DefaultQuotaTokens
	if quota <= 0 {
		quota = 500000
	}
	rpm := h.cfg.DefaultRequestsPerMin
	if rpm <= 0 {
		rpm = 60
	}

	team := &models.Team{
		Name:                 username,
		Email:                &email,
		Token:                token,
		QuotaTokens:          quota,
		MaxRequestsPerMinute: rpm,
		IsActive:             true,
	}

	if errCreate := h.teams.Create(c.Request.Context(), team); errCreate != nil {
		switch {
		case errors.Is(errCreate, store.ErrNameTaken):
			c.JSON(http.StatusBadRequest, gin.H{"error": "username already registered"})
		case errors.Is(errCreate, store.ErrEmailTaken):
			c.JSON(http.StatusBadRequest, gin.H{"error": "email already registered"})
		default:
			log.WithError(errCreate).Error("register: create team failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"name":                    team.Name,
		"token":                   team.Token,
		"quota_tokens":            team.QuotaTokens,
		"max_requests_per_minute": team.MaxRequestsPerMinute,
		"message":                 "Save this token, it will not be shown again",
	})
}

// codeAccepted reports whether the presented access code matches a configured one.
func (h *Handler) codeAccepted(code string) bool {
	code = strings.TrimSpace(code)
	if code == "" {
		return false
	}
	for _, allowed := range h.cfg.AccessCodes {
		if strings.TrimSpace(allowed) == code {
			return true
		}
	}
	return false
}

// domainAllowed checks the email domain against the allowlist; an empty
// allowlist accepts any domain.
func (h *Handler) domainAllowed(email string) bool {
	if len(h.cfg.AllowedEmailDomains) == 0 {
		return true
	}
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return false
	}
	domain := email[at+1:]
	for _, allowed := range h.cfg.AllowedEmailDomains {
		if strings.EqualFold(strings.TrimSpace(allowed), domain) {
			return true
		}
	}
	return false
}
