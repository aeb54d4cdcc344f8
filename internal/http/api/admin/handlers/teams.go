package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/tokenrouter/tokenrouter/internal/models"
	"github.com/tokenrouter/tokenrouter/internal/security"
	"github.com/tokenrouter/tokenrouter/internal/store"
)

// TeamsHandler serves admin team management endpoints.
type TeamsHandler struct {
	teams *store.TeamStore
}

// NewTeamsHandler constructs a TeamsHandler.
func NewTeamsHandler(teams *store.TeamStore) *TeamsHandler {
	return &TeamsHandler{teams: teams}
}

// teamCreateRequest is the body for creating a team.
type teamCreateRequest struct {
	Name                 string  `json:"name" binding:"required"`     // Unique team name.
	Email                *string `json:"email"`                       // Optional contact email.
	Token                string  `json:"token"`                       // Bearer token; generated when omitted.
	QuotaTokens          int64   `json:"quota_tokens"`                // Token allotment.
	MaxRequestsPerMinute int     `json:"max_requests_per_minute"`     // Trailing-window ceiling.
	IsActive             *bool   `json:"is_active"`                   // Defaults to active.
}

// teamUpdateRequest carries the admin-editable fields; nil means unchanged.
type teamUpdateRequest struct {
	Name                 *string `json:"name"`
	Email                *string `json:"email"`
	QuotaTokens          *int64  `json:"quota_tokens"`
	MaxRequestsPerMinute *int    `json:"max_requests_per_minute"`
	IsActive             *bool   `json:"is_active"`
}

// teamView is the admin-facing team representation. It includes the bearer
// token; the admin surface is the only place it is readable after creation.
type teamView struct {
	ID                   uint64  `json:"id"`
	Name                 string  `json:"name"`
	Email                *string `json:"email"`
	Token                string  `json:"token"`
	QuotaTokens          int64   `json:"quota_tokens"`
	UsedTokens           int64   `json:"used_tokens"`
	RemainingTokens      int64   `json:"remaining_tokens"`
	UsagePercentage      float64 `json:"usage_percentage"`
	MaxRequestsPerMinute int     `json:"max_requests_per_minute"`
	IsActive             bool    `json:"is_active"`
	CreatedAt            string  `json:"created_at"`
	UpdatedAt            string  `json:"updated_at"`
}

// newTeamView maps a model to its admin representation.
func newTeamView(team *models.Team) teamView {
	return teamView{
		ID:                   team.ID,
		Name:                 team.Name,
		Email:                team.Email,
		Token:                team.Token,
		QuotaTokens:          team.QuotaTokens,
		UsedTokens:           team.UsedTokens,
		RemainingTokens:      team.RemainingTokens(),
		UsagePercentage:      team.UsagePercentage(),
		MaxRequestsPerMinute: team.MaxRequestsPerMinute,
		IsActive:             team.IsActive,
		CreatedAt:            team.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		UpdatedAt:            team.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
}

// List returns teams with paging and optional name search.
func (h *TeamsHandler) List(c *gin.Context) {
	page, limit := pagination(c)
	search := strings.TrimSpace(c.Query("search"))

	teams, errList := h.teams.List(c.Request.Context(), (page-1)*limit, limit, search)
	if errList != nil {
		log.WithError(errList).Error("admin: list teams failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list teams"})
		return
	}

	views := make([]teamView, 0, len(teams))
	for i := range teams {
		views = append(views, newTeamView(&teams[i]))
	}
	c.JSON(http.StatusOK, gin.H{"teams": views, "page": page, "limit": limit})
}

// Get returns a single team by id.
func (h *TeamsHandler) Get(c *gin.Context) {
	team, ok := h.loadTeam(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, newTeamView(team))
}

// Create inserts a team, generating a bearer token when none is supplied.
func (h *TeamsHandler) Create(c *gin.Context) {
	var req teamCreateRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if strings.TrimSpace(req.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}
	if req.QuotaTokens <= 0 {
		req.QuotaTokens = 500000
	}
	if req.MaxRequestsPerMinute <= 0 {
		req.MaxRequestsPerMinute = 30
	}

	token := strings.TrimSpace(req.Token)
	if token == "" {
		generated, errGen := security.GenerateTeamToken()
		if errGen != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
			return
		}
		token = generated
	}

	team := &models.Team{
		Name:                 strings.TrimSpace(req.Name),
		Email:                req.Email,
		Token:                token,
		QuotaTokens:          req.QuotaTokens,
		MaxRequestsPerMinute: req.MaxRequestsPerMinute,
		IsActive:             req.IsActive == nil || *req.IsActive,
	}

	if errCreate := h.teams.Create(c.Request.Context(), team); errCreate != nil {
		h.writeStoreError(c, errCreate)
		return
	}
	c.JSON(http.StatusCreated, newTeamView(team))
}

// Update applies the supplied fields to an existing team.
func (h *TeamsHandler) Update(c *gin.Context) {
	team, ok := h.loadTeam(c)
	if !ok {
		return
	}

	var req teamUpdateRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if req.Name != nil {
		trimmed := strings.TrimSpace(*req.Name)
		if trimmed == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "name must not be empty"})
			return
		}
		team.Name = trimmed
	}
	if req.Email != nil {
		lowered := strings.ToLower(strings.TrimSpace(*req.Email))
		team.Email = &lowered
	}
	if req.QuotaTokens != nil {
		if *req.QuotaTokens <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "quota_tokens must be positive"})
			return
		}
		team.QuotaTokens = *req.QuotaTokens
	}
	if req.MaxRequestsPerMinute != nil {
		if *req.MaxRequestsPerMinute <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "max_requests_per_minute must be positive"})
			return
		}
		team.MaxRequestsPerMinute = *req.MaxRequestsPerMinute
	}
	if req.IsActive != nil {
		team.IsActive = *req.IsActive
	}

	if errUpdate := h.teams.Update(c.Request.Context(), team); errUpdate != nil {
		h.writeStoreError(c, errUpdate)
		return
	}
	c.JSON(http.StatusOK, newTeamView(team))
}

// Delete removes a team and its request logs.
func (h *TeamsHandler) Delete(c *gin.Context) {
	id, ok := teamID(c)
	if !ok {
		return
	}
	if errDelete := h.teams.Delete(c.Request.Context(), id); errDelete != nil {
		h.writeStoreError(c, errDelete)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// ResetUsage zeroes a team's consumed token counter.
func (h *TeamsHandler) ResetUsage(c *gin.Context) {
	id, ok := teamID(c)
	if !ok {
		return
	}
	if errReset := h.teams.ResetUsage(c.Request.Context(), id); errReset != nil {
		h.writeStoreError(c, errReset)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reset": true})
}

// logView is one request log row in the admin listing.
type logView struct {
	ID           uint64 `json:"id"`
	RequestID    string `json:"request_id"`
	Timestamp    string `json:"timestamp"`
	Model        string `json:"model"`
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
	TotalTokens  int64  `json:"total_tokens"`
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// Logs returns a team's request logs, newest first, paged.
func (h *TeamsHandler) Logs(c *gin.Context) {
	team, ok := h.loadTeam(c)
	if !ok {
		return
	}
	page, limit := pagination(c)

	rows, errLogs := h.teams.TeamLogs(c.Request.Context(), team.ID, (page-1)*limit, limit)
	if errLogs != nil {
		log.WithError(errLogs).Error("admin: list team logs failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list logs"})
		return
	}
	total, errCount := h.teams.CountTeamLogs(c.Request.Context(), team.ID)
	if errCount != nil {
		log.WithError(errCount).Error("admin: count team logs failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list logs"})
		return
	}

	views := make([]logView, 0, len(rows))
	for _, row := range rows {
		views = append(views, logView{
			ID:           row.ID,
			RequestID:    row.RequestID,
			Timestamp:    row.Timestamp.UTC().Format("2006-01-02T15:04:05Z"),
			Model:        row.Model,
			InputTokens:  row.InputTokens,
			OutputTokens: row.OutputTokens,
			TotalTokens:  row.TotalTokens,
			Status:       row.Status,
			ErrorMessage: row.ErrorMessage,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"logs":  views,
		"total": total,
		"page":  page,
		"limit": limit,
	})
}

// loadTeam resolves the :id path parameter to a team, writing the error
// response itself on failure.
func (h *TeamsHandler) loadTeam(c *gin.Context) (*models.Team, bool) {
	id, ok := teamID(c)
	if !ok {
		return nil, false
	}
	team, errGet := h.teams.GetByID(c.Request.Context(), id)
	if errGet != nil {
		h.writeStoreError(c, errGet)
		return nil, false
	}
	return team, true
}

// writeStoreError maps store errors onto admin API responses.
func (h *TeamsHandler) writeStoreError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrTeamNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "team not found"})
	case errors.Is(err, store.ErrNameTaken), errors.Is(err, store.ErrEmailTaken), errors.Is(err, store.ErrTokenTaken):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		log.WithError(err).Error("admin: team store failure")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// teamID parses the :id path parameter.
func teamID(c *gin.Context) (uint64, bool) {
	id, errParse := strconv.ParseUint(c.Param("id"), 10, 64)
	if errParse != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid team id"})
		return 0, false
	}
	return id, true
}

// pagination reads page/limit query params with the admin defaults.
func pagination(c *gin.Context) (page, limit int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 500 {
		limit = 50
	}
	return page, limit
}
