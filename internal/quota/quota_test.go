package quota

import (
	"errors"
	"testing"

	"github.com/tokenrouter/tokenrouter/internal/models"
)

func TestCheckAllowsTeamUnderQuota(t *testing.T) {
	team := &models.Team{QuotaTokens: 100, UsedTokens: 99}
	if err := Check(team); err != nil {
		t.Fatalf("team one token under quota should pass: %v", err)
	}
}

func TestCheckRejectsTeamAtQuota(t *testing.T) {
	team := &models.Team{QuotaTokens: 100, UsedTokens: 100}
	err := Check(team)
	if err == nil {
		t.Fatalf("team at quota should be rejected")
	}

	var exceeded *ExceededError
	if !errors.As(err, &exceeded) {
		t.Fatalf("expected ExceededError, got %T", err)
	}
	if exceeded.Used != 100 || exceeded.Quota != 100 {
		t.Fatalf("expected counters 100/100, got %d/%d", exceeded.Used, exceeded.Quota)
	}
}

func TestCheckRejectsTeamPastQuota(t *testing.T) {
	team := &models.Team{QuotaTokens: 100, UsedTokens: 150}
	if err := Check(team); err == nil {
		t.Fatalf("team past quota should be rejected")
	}
}

func TestCheckErrorStatesConcreteNumbers(t *testing.T) {
	team := &models.Team{QuotaTokens: 500, UsedTokens: 500}
	err := Check(team)
	if err == nil {
		t.Fatalf("expected rejection")
	}
	want := "Token quota exceeded. Used: 500/500"
	if err.Error() != want {
		t.Fatalf("expected %q, got %q", want, err.Error())
	}
}
