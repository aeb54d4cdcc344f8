package usage

import (
	"context"
	"sync"
	"testing"

	"gorm.io/gorm"

	"github.com/tokenrouter/tokenrouter/internal/db"
	"github.com/tokenrouter/tokenrouter/internal/models"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	conn, errOpen := db.Open(":memory:")
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate db: %v", errMigrate)
	}
	return conn
}

func createTestTeam(t *testing.T, conn *gorm.DB, quota int64) *models.Team {
	t.Helper()

	team := &models.Team{
		Name:                 "acme",
		Token:                "tr_test_token",
		QuotaTokens:          quota,
		MaxRequestsPerMinute: 30,
		IsActive:             true,
	}
	if errCreate := conn.Create(team).Error; errCreate != nil {
		t.Fatalf("create team: %v", errCreate)
	}
	return team
}

func TestRecordWritesExactlyOneRow(t *testing.T) {
	conn := openTestDB(t)
	team := createTestTeam(t, conn, 1000)
	recorder := NewRecorder(conn)

	row, errRecord := recorder.Record(context.Background(), Entry{
		TeamID:       team.ID,
		Model:        "gpt-5-nano",
		InputTokens:  3,
		OutputTokens: 7,
		Status:       models.StatusSuccess,
		RequestBody:  []byte(`{"model":"gpt-5-nano"}`),
		ResponseBody: []byte(`{"id":"cmpl-1"}`),
	})
	if errRecord != nil {
		t.Fatalf("record: %v", errRecord)
	}

	if row.TotalTokens != 10 {
		t.Fatalf("expected total 10, got %d", row.TotalTokens)
	}
	if row.RequestID == "" {
		t.Fatalf("expected a request id")
	}

	var count int64
	if errCount := conn.Model(&models.RequestLog{}).Count(&count).Error; errCount != nil {
		t.Fatalf("count logs: %v", errCount)
	}
	if count != 1 {
		t.Fatalf("expected exactly one log row, got %d", count)
	}
}

func TestRecordErrorEntryKeepsZeroTokens(t *testing.T) {
	conn := openTestDB(t)
	team := createTestTeam(t, conn, 1000)
	recorder := NewRecorder(conn)

	row, errRecord := recorder.Record(context.Background(), Entry{
		TeamID:       team.ID,
		Model:        "gpt-5-nano",
		Status:       models.StatusError,
		ErrorMessage: "Rate limit exceeded: 30 requests per minute",
	})
	if errRecord != nil {
		t.Fatalf("record: %v", errRecord)
	}

	if row.InputTokens != 0 || row.OutputTokens != 0 || row.TotalTokens != 0 {
		t.Fatalf("rejected attempt should carry zero tokens")
	}
	if row.RequestBody != nil || row.ResponseBody != nil {
		t.Fatalf("pre-forward rejection should carry no payload snapshots")
	}
}

func TestRecordSurvivesCancelledCaller(t *testing.T) {
	conn := openTestDB(t)
	team := createTestTeam(t, conn, 1000)
	recorder := NewRecorder(conn)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, errRecord := recorder.Record(ctx, Entry{
		TeamID: team.ID,
		Model:  "gpt-5-nano",
		Status: models.StatusError,
	}); errRecord != nil {
		t.Fatalf("record should not inherit caller cancellation: %v", errRecord)
	}
}

func TestCreditIncrementsUsedTokens(t *testing.T) {
	conn := openTestDB(t)
	team := createTestTeam(t, conn, 1000)
	recorder := NewRecorder(conn)

	if errCredit := recorder.Credit(context.Background(), team.ID, 42); errCredit != nil {
		t.Fatalf("credit: %v", errCredit)
	}

	var reloaded models.Team
	if errFind := conn.First(&reloaded, team.ID).Error; errFind != nil {
		t.Fatalf("reload team: %v", errFind)
	}
	if reloaded.UsedTokens != 42 {
		t.Fatalf("expected used_tokens 42, got %d", reloaded.UsedTokens)
	}
}

func TestCreditUnknownTeamFails(t *testing.T) {
	conn := openTestDB(t)
	recorder := NewRecorder(conn)

	if errCredit := recorder.Credit(context.Background(), 9999, 10); errCredit == nil {
		t.Fatalf("crediting a missing team should fail")
	}
}

func TestConcurrentCreditsLoseNoUpdates(t *testing.T) {
	conn := openTestDB(t)
	team := createTestTeam(t, conn, 1_000_000)
	recorder := NewRecorder(conn)

	const workers = 20
	const tokensEach = 50

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if errCredit := recorder.Credit(context.Background(), team.ID, tokensEach); errCredit != nil {
				t.Errorf("credit: %v", errCredit)
			}
		}()
	}
	wg.Wait()

	var reloaded models.Team
	if errFind := conn.First(&reloaded, team.ID).Error; errFind != nil {
		t.Fatalf("reload team: %v", errFind)
	}
	if want := int64(workers * tokensEach); reloaded.UsedTokens != want {
		t.Fatalf("expected used_tokens %d, got %d", want, reloaded.UsedTokens)
	}
}

func TestSnapshotJSONWrapsNonJSONPayloads(t *testing.T) {
	if snapshotJSON(nil) != nil {
		t.Fatalf("empty payload should produce nil snapshot")
	}
	if got := string(snapshotJSON([]byte(`{"a":1}`))); got != `{"a":1}` {
		t.Fatalf("valid JSON should be stored as-is, got %s", got)
	}
	if got := string(snapshotJSON([]byte(`not json`))); got != `"not json"` {
		t.Fatalf("non-JSON should be quoted, got %s", got)
	}
}
