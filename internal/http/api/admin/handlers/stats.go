package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/tokenrouter/tokenrouter/internal/store"
)

// StatsHandler serves system-wide counters for the admin dashboard.
type StatsHandler struct {
	teams *store.TeamStore
}

// NewStatsHandler constructs a StatsHandler.
func NewStatsHandler(teams *store.TeamStore) *StatsHandler {
	return &StatsHandler{teams: teams}
}

// Overview returns totals across teams and request logs.
func (h *StatsHandler) Overview(c *gin.Context) {
	stats, errStats := h.teams.AggregateStats(c.Request.Context())
	if errStats != nil {
		log.WithError(errStats).Error("admin: aggregate stats failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}
