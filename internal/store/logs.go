package store

import (
	"context"
	"fmt"

	"github.com/tokenrouter/tokenrouter/internal/models"
)

// Stats aggregates system-wide counters for the admin dashboard.
type Stats struct {
	TotalTeams       int64 `json:"total_teams"`
	ActiveTeams      int64 `json:"active_teams"`
	TotalRequests    int64 `json:"total_requests"`
	TotalTokensUsed  int64 `json:"total_tokens_used"`
	TotalQuotaTokens int64 `json:"total_quota_tokens"`
}

// AggregateStats computes counters across all teams and logs.
func (s *TeamStore) AggregateStats(ctx context.Context) (*Stats, error) {
	var stats Stats

	if errCount := s.db.WithContext(ctx).Model(&models.Team{}).Count(&stats.TotalTeams).Error; errCount != nil {
		return nil, fmt.Errorf("store: count teams: %w", errCount)
	}
	if errCount := s.db.WithContext(ctx).Model(&models.Team{}).Where("is_active = ?", true).Count(&stats.ActiveTeams).Error; errCount != nil {
		return nil, fmt.Errorf("store: count active teams: %w", errCount)
	}
	if errCount := s.db.WithContext(ctx).Model(&models.RequestLog{}).Count(&stats.TotalRequests).Error; errCount != nil {
		return nil, fmt.Errorf("store: count logs: %w", errCount)
	}

	var sums struct {
		Used  int64 `gorm:"column:used"`
		Quota int64 `gorm:"column:quota"`
	}
	if errSum := s.db.WithContext(ctx).Model(&models.Team{}).
		Select("COALESCE(SUM(used_tokens), 0) AS used, COALESCE(SUM(quota_tokens), 0) AS quota").
		Scan(&sums).Error; errSum != nil {
		return nil, fmt.Errorf("store: sum usage: %w", errSum)
	}
	stats.TotalTokensUsed = sums.Used
	stats.TotalQuotaTokens = sums.Quota

	return &stats, nil
}

// TeamLogs returns a team's request logs, newest first.
func (s *TeamStore) TeamLogs(ctx context.Context, teamID uint64, offset, limit int) ([]models.RequestLog, error) {
	if limit <= 0 {
		limit = 100
	}
	var logs []models.RequestLog
	if errFind := s.db.WithContext(ctx).
		Where("team_id = ?", teamID).
		Order("timestamp DESC").
		Offset(offset).
		Limit(limit).
		Find(&logs).Error; errFind != nil {
		return nil, fmt.Errorf("store: team %d logs: %w", teamID, errFind)
	}
	return logs, nil
}

// CountTeamLogs returns the number of log rows owned by a team.
func (s *TeamStore) CountTeamLogs(ctx context.Context, teamID uint64) (int64, error) {
	var count int64
	if errCount := s.db.WithContext(ctx).Model(&models.RequestLog{}).
		Where("team_id = ?", teamID).
		Count(&count).Error; errCount != nil {
		return 0, fmt.Errorf("store: count team %d logs: %w", teamID, errCount)
	}
	return count, nil
}
