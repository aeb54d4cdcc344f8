// Package store provides the GORM-backed team store the admission pipeline
// and the admin surface share.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	dbutil "github.com/tokenrouter/tokenrouter/internal/db"
	"github.com/tokenrouter/tokenrouter/internal/models"
)

// Store errors surfaced to callers.
var (
	// ErrTeamNotFound indicates no team matches the lookup.
	ErrTeamNotFound = errors.New("team not found")
	// ErrNameTaken indicates the team name is already in use.
	ErrNameTaken = errors.New("team name already exists")
	// ErrEmailTaken indicates the email is already in use.
	ErrEmailTaken = errors.New("email already exists")
	// ErrTokenTaken indicates the bearer token is already in use.
	ErrTokenTaken = errors.New("token already exists")
)

// TeamStore wraps team persistence.
type TeamStore struct {
	db *gorm.DB
}

// NewTeamStore constructs a TeamStore backed by GORM.
func NewTeamStore(db *gorm.DB) *TeamStore { return &TeamStore{db: db} }

// DB exposes the underlying connection for collaborators sharing it.
func (s *TeamStore) DB() *gorm.DB { return s.db }

// Create inserts a team after enforcing the uniqueness invariants.
func (s *TeamStore) Create(ctx context.Context, team *models.Team) error {
	if team == nil {
		return fmt.Errorf("store: nil team")
	}
	team.Email = normalizeEmail(team.Email)

	if taken, errCheck := s.exists(ctx, "name = ?", team.Name); errCheck != nil {
		return errCheck
	} else if taken {
		return ErrNameTaken
	}
	if team.Email != nil {
		if taken, errCheck := s.exists(ctx, "email = ?", *team.Email); errCheck != nil {
			return errCheck
		} else if taken {
			return ErrEmailTaken
		}
	}
	if taken, errCheck := s.exists(ctx, "token = ?", team.Token); errCheck != nil {
		return errCheck
	} else if taken {
		return ErrTokenTaken
	}

	if errCreate := s.db.WithContext(ctx).Create(team).Error; errCreate != nil {
		return fmt.Errorf("store: create team: %w", errCreate)
	}
	return nil
}

// GetByID loads a team by primary key.
func (s *TeamStore) GetByID(ctx context.Context, id uint64) (*models.Team, error) {
	var team models.Team
	err := s.db.WithContext(ctx).First(&team, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTeamNotFound
		}
		return nil, fmt.Errorf("store: get team %d: %w", id, err)
	}
	return &team, nil
}

// GetByToken resolves a bearer token to its team.
func (s *TeamStore) GetByToken(ctx context.Context, token string) (*models.Team, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrTeamNotFound
	}
	var team models.Team
	err := s.db.WithContext(ctx).Where("token = ?", token).First(&team).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTeamNotFound
		}
		return nil, fmt.Errorf("store: get team by token: %w", err)
	}
	return &team, nil
}

// GetByName loads a team by name, case-insensitively.
func (s *TeamStore) GetByName(ctx context.Context, name string) (*models.Team, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrTeamNotFound
	}
	var team models.Team
	err := s.db.WithContext(ctx).Where("LOWER(name) = ?", strings.ToLower(name)).First(&team).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTeamNotFound
		}
		return nil, fmt.Errorf("store: get team by name: %w", err)
	}
	return &team, nil
}

// List returns teams ordered by id, with optional name filtering.
func (s *TeamStore) List(ctx context.Context, offset, limit int, search string) ([]models.Team, error) {
	if limit <= 0 {
		limit = 100
	}
	q := s.db.WithContext(ctx).Model(&models.Team{}).Order("id ASC").Offset(offset).Limit(limit)
	if trimmed := strings.TrimSpace(search); trimmed != "" {
		pattern := dbutil.NormalizeLikePattern(s.db, "%"+trimmed+"%")
		q = q.Where(dbutil.CaseInsensitiveLikeExpr(s.db, "name"), pattern)
	}
	var teams []models.Team
	if errFind := q.Find(&teams).Error; errFind != nil {
		return nil, fmt.Errorf("store: list teams: %w", errFind)
	}
	return teams, nil
}

// Update persists the admin-editable fields only. used_tokens is never
// written here: a full-row save would overwrite concurrent credits with the
// stale value read when the row was loaded. Uniqueness of a changed name or
// email is re-checked against other teams.
func (s *TeamStore) Update(ctx context.Context, team *models.Team) error {
	if team == nil || team.ID == 0 {
		return fmt.Errorf("store: invalid team update")
	}
	team.Email = normalizeEmail(team.Email)

	if taken, errCheck := s.exists(ctx, "name = ? AND id <> ?", team.Name, team.ID); errCheck != nil {
		return errCheck
	} else if taken {
		return ErrNameTaken
	}
	if team.Email != nil {
		if taken, errCheck := s.exists(ctx, "email = ? AND id <> ?", *team.Email, team.ID); errCheck != nil {
			return errCheck
		} else if taken {
			return ErrEmailTaken
		}
	}

	res := s.db.WithContext(ctx).Model(&models.Team{}).
		Where("id = ?", team.ID).
		Updates(map[string]any{
			"name":                    team.Name,
			"email":                   team.Email,
			"quota_tokens":            team.QuotaTokens,
			"max_requests_per_minute": team.MaxRequestsPerMinute,
			"is_active":               team.IsActive,
		})
	if res.Error != nil {
		return fmt.Errorf("store: update team %d: %w", team.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrTeamNotFound
	}
	return nil
}

// normalizeEmail lowercases an email and maps blank values to nil so the
// unique index never sees empty strings.
func normalizeEmail(email *string) *string {
	if email == nil {
		return nil
	}
	lowered := strings.ToLower(strings.TrimSpace(*email))
	if lowered == "" {
		return nil
	}
	return &lowered
}

// Delete removes a team and its logs. Log removal is explicit so the cascade
// does not depend on foreign key enforcement being available.
func (s *TeamStore) Delete(ctx context.Context, id uint64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&models.Team{}, id)
		if res.Error != nil {
			return fmt.Errorf("store: delete team %d: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrTeamNotFound
		}
		if errLogs := tx.Where("team_id = ?", id).Delete(&models.RequestLog{}).Error; errLogs != nil {
			return fmt.Errorf("store: delete team %d logs: %w", id, errLogs)
		}
		return nil
	})
}

// ResetUsage sets a team's used token counter back to zero.
func (s *TeamStore) ResetUsage(ctx context.Context, id uint64) error {
	res := s.db.WithContext(ctx).Model(&models.Team{}).
		Where("id = ?", id).
		Update("used_tokens", 0)
	if res.Error != nil {
		return fmt.Errorf("store: reset usage %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrTeamNotFound
	}
	return nil
}

// exists reports whether any team matches the condition.
func (s *TeamStore) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var count int64
	if errCount := s.db.WithContext(ctx).Model(&models.Team{}).Where(query, args...).Count(&count).Error; errCount != nil {
		return false, fmt.Errorf("store: uniqueness check: %w", errCount)
	}
	return count > 0, nil
}
