package admin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"
	"gorm.io/gorm"

	"github.com/tokenrouter/tokenrouter/internal/config"
	"github.com/tokenrouter/tokenrouter/internal/db"
	"github.com/tokenrouter/tokenrouter/internal/models"
	"github.com/tokenrouter/tokenrouter/internal/store"
)

const adminPassword = "test-admin-password"

func newAdminEngine(t *testing.T) (*gin.Engine, *store.TeamStore, *gorm.DB, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	conn, errOpen := db.Open(":memory:")
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate db: %v", errMigrate)
	}

	logDir := t.TempDir()
	cfg := config.Default()
	cfg.Admin.Password = adminPassword
	cfg.Admin.JWTSecret = "test-secret"
	cfg.Logging.Directory = logDir

	teams := store.NewTeamStore(conn)
	engine := gin.New()
	RegisterAdminRoutes(engine, cfg, teams)
	return engine, teams, conn, logDir
}

func adminDo(engine *gin.Engine, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func passwordHeader() map[string]string {
	return map[string]string{"X-Admin-Password": adminPassword}
}

func seedTeam(t *testing.T, teams *store.TeamStore, name, token string) *models.Team {
	t.Helper()
	team := &models.Team{
		Name:                 name,
		Token:                token,
		QuotaTokens:          1000,
		MaxRequestsPerMinute: 30,
		IsActive:             true,
	}
	if errCreate := teams.Create(context.Background(), team); errCreate != nil {
		t.Fatalf("seed team: %v", errCreate)
	}
	return team
}

func TestAdminRoutesRequireCredentials(t *testing.T) {
	engine, _, _, _ := newAdminEngine(t)

	rec := adminDo(engine, http.MethodGet, "/admin/stats", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", rec.Code)
	}

	rec = adminDo(engine, http.MethodGet, "/admin/stats", "", map[string]string{"X-Admin-Password": "wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong password, got %d", rec.Code)
	}
}

func TestAdminLoginIssuesUsableJWT(t *testing.T) {
	engine, _, _, _ := newAdminEngine(t)

	rec := adminDo(engine, http.MethodPost, "/admin/login", `{"password":"`+adminPassword+`"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("login failed: %d %s", rec.Code, rec.Body.String())
	}
	token := gjson.Get(rec.Body.String(), "token").String()
	if token == "" {
		t.Fatalf("expected a session token")
	}

	rec = adminDo(engine, http.MethodGet, "/admin/stats", "", map[string]string{"Authorization": "Bearer " + token})
	if rec.Code != http.StatusOK {
		t.Fatalf("session token rejected: %d %s", rec.Code, rec.Body.String())
	}
}

func TestAdminLoginWrongPassword(t *testing.T) {
	engine, _, _, _ := newAdminEngine(t)

	rec := adminDo(engine, http.MethodPost, "/admin/login", `{"password":"nope"}`, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAdminTeamCRUD(t *testing.T) {
	engine, _, _, _ := newAdminEngine(t)

	// Create without a token: one is generated.
	rec := adminDo(engine, http.MethodPost, "/admin/teams",
		`{"name":"acme","email":"ops@acme.io","quota_tokens":2000,"max_requests_per_minute":10}`, passwordHeader())
	if rec.Code != http.StatusCreated {
		t.Fatalf("create failed: %d %s", rec.Code, rec.Body.String())
	}
	created := rec.Body.String()
	if !strings.HasPrefix(gjson.Get(created, "token").String(), "tr_") {
		t.Fatalf("expected a generated tr_ token, got %s", created)
	}
	id := gjson.Get(created, "id").String()

	// Duplicate name rejected.
	rec = adminDo(engine, http.MethodPost, "/admin/teams", `{"name":"acme"}`, passwordHeader())
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("duplicate name should be 400, got %d", rec.Code)
	}

	// Get.
	rec = adminDo(engine, http.MethodGet, "/admin/teams/"+id, "", passwordHeader())
	if rec.Code != http.StatusOK || gjson.Get(rec.Body.String(), "name").String() != "acme" {
		t.Fatalf("get failed: %d %s", rec.Code, rec.Body.String())
	}

	// Update quota and deactivate.
	rec = adminDo(engine, http.MethodPut, "/admin/teams/"+id, `{"quota_tokens":5000,"is_active":false}`, passwordHeader())
	if rec.Code != http.StatusOK {
		t.Fatalf("update failed: %d %s", rec.Code, rec.Body.String())
	}
	if gjson.Get(rec.Body.String(), "quota_tokens").Int() != 5000 || gjson.Get(rec.Body.String(), "is_active").Bool() {
		t.Fatalf("update not applied: %s", rec.Body.String())
	}

	// Delete, then 404.
	rec = adminDo(engine, http.MethodDelete, "/admin/teams/"+id, "", passwordHeader())
	if rec.Code != http.StatusOK {
		t.Fatalf("delete failed: %d %s", rec.Code, rec.Body.String())
	}
	rec = adminDo(engine, http.MethodGet, "/admin/teams/"+id, "", passwordHeader())
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestAdminResetUsage(t *testing.T) {
	engine, teams, conn, _ := newAdminEngine(t)
	team := seedTeam(t, teams, "acme", "tr_reset_token")

	if errSeed := conn.Model(&models.Team{}).Where("id = ?", team.ID).
		Update("used_tokens", 900).Error; errSeed != nil {
		t.Fatalf("seed usage: %v", errSeed)
	}

	rec := adminDo(engine, http.MethodPost, "/admin/teams/1/reset-usage", "", passwordHeader())
	if rec.Code != http.StatusOK {
		t.Fatalf("reset failed: %d %s", rec.Code, rec.Body.String())
	}

	reloaded, errGet := teams.GetByID(context.Background(), team.ID)
	if errGet != nil {
		t.Fatalf("reload team: %v", errGet)
	}
	if reloaded.UsedTokens != 0 {
		t.Fatalf("expected used_tokens reset to 0, got %d", reloaded.UsedTokens)
	}
}

func TestAdminTeamLogsNewestFirst(t *testing.T) {
	engine, teams, conn, _ := newAdminEngine(t)
	team := seedTeam(t, teams, "acme", "tr_logs_token")

	for i, ts := range []string{"2026-08-01T10:00:00Z", "2026-08-02T10:00:00Z"} {
		row := models.RequestLog{
			TeamID:    team.ID,
			RequestID: "req-" + string(rune('a'+i)),
			Model:     "gpt-5-nano",
			Status:    models.StatusSuccess,
		}
		row.Timestamp, _ = time.Parse(time.RFC3339, ts)
		if errCreate := conn.Create(&row).Error; errCreate != nil {
			t.Fatalf("seed log: %v", errCreate)
		}
	}

	rec := adminDo(engine, http.MethodGet, "/admin/teams/1/logs", "", passwordHeader())
	if rec.Code != http.StatusOK {
		t.Fatalf("logs failed: %d %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if gjson.Get(body, "total").Int() != 2 {
		t.Fatalf("expected total 2, got %s", body)
	}
	first := gjson.Get(body, "logs.0.request_id").String()
	if first != "req-b" {
		t.Fatalf("logs should be newest first, got %s", body)
	}
}

func TestAdminServerLogs(t *testing.T) {
	engine, _, _, logDir := newAdminEngine(t)

	content := "line one\nline two\nline three\n"
	if errWrite := os.WriteFile(filepath.Join(logDir, "tokenrouter.log"), []byte(content), 0o644); errWrite != nil {
		t.Fatalf("write log file: %v", errWrite)
	}

	rec := adminDo(engine, http.MethodGet, "/admin/server-logs", "", passwordHeader())
	if rec.Code != http.StatusOK {
		t.Fatalf("list failed: %d %s", rec.Code, rec.Body.String())
	}
	if gjson.Get(rec.Body.String(), "files.0.name").String() != "tokenrouter.log" {
		t.Fatalf("expected the log file listed, got %s", rec.Body.String())
	}

	rec = adminDo(engine, http.MethodGet, "/admin/server-logs/tokenrouter.log?lines=2", "", passwordHeader())
	if rec.Code != http.StatusOK {
		t.Fatalf("content failed: %d %s", rec.Code, rec.Body.String())
	}
	got := gjson.Get(rec.Body.String(), "content").String()
	if got != "line two\nline three" {
		t.Fatalf("expected last two lines, got %q", got)
	}

	// Traversal and non-.log names are rejected.
	rec = adminDo(engine, http.MethodGet, "/admin/server-logs/..secrets.log", "", passwordHeader())
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("traversal name should be 400, got %d", rec.Code)
	}
	rec = adminDo(engine, http.MethodGet, "/admin/server-logs/config.yaml", "", passwordHeader())
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("non-log name should be 400, got %d", rec.Code)
	}
}

func TestAdminStats(t *testing.T) {
	engine, teams, conn, _ := newAdminEngine(t)
	team := seedTeam(t, teams, "acme", "tr_stats_token")

	row := models.RequestLog{TeamID: team.ID, Model: "gpt-5-nano", Status: models.StatusSuccess}
	if errCreate := conn.Create(&row).Error; errCreate != nil {
		t.Fatalf("seed log: %v", errCreate)
	}

	rec := adminDo(engine, http.MethodGet, "/admin/stats", "", passwordHeader())
	if rec.Code != http.StatusOK {
		t.Fatalf("stats failed: %d %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if gjson.Get(body, "total_teams").Int() != 1 || gjson.Get(body, "total_requests").Int() != 1 {
		t.Fatalf("unexpected stats %s", body)
	}
}
