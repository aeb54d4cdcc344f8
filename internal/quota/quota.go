// Package quota implements the stateless quota guard.
package quota

import (
	"fmt"

	"github.com/tokenrouter/tokenrouter/internal/models"
)

// ExceededError reports a team that has consumed its full allotment. It
// carries the concrete counters so callers can self-diagnose.
type ExceededError struct {
	Used  int64
	Quota int64
}

// Error implements the error interface.
func (e *ExceededError) Error() string {
	return fmt.Sprintf("Token quota exceeded. Used: %d/%d", e.Used, e.Quota)
}

// Check rejects a team whose used tokens have reached or passed its quota.
// A team may consume its very last token but no more. Pure function of the
// team's current counters.
func Check(team *models.Team) error {
	if team == nil {
		return fmt.Errorf("quota: nil team")
	}
	if team.UsedTokens >= team.QuotaTokens {
		return &ExceededError{Used: team.UsedTokens, Quota: team.QuotaTokens}
	}
	return nil
}
