package register

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"github.com/tokenrouter/tokenrouter/internal/config"
	"github.com/tokenrouter/tokenrouter/internal/db"
	"github.com/tokenrouter/tokenrouter/internal/models"
	"github.com/tokenrouter/tokenrouter/internal/store"
)

func newRegisterEngine(t *testing.T, cfg config.RegistrationConfig) (*gin.Engine, *store.TeamStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	conn, errOpen := db.Open(":memory:")
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate db: %v", errMigrate)
	}

	teams := store.NewTeamStore(conn)
	engine := gin.New()
	RegisterRoutes(engine, cfg, teams)
	return engine, teams
}

func postRegister(engine *gin.Engine, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func enabledConfig() config.RegistrationConfig {
	return config.RegistrationConfig{
		Enabled:               true,
		AccessCodes:           []string{"beta-code"},
		DefaultQuotaTokens:    500000,
		DefaultRequestsPerMin: 60,
	}
}

func TestRegisterDisabled(t *testing.T) {
	cfg := enabledConfig()
	cfg.Enabled = false
	engine, _ := newRegisterEngine(t, cfg)

	rec := postRegister(engine, `{"username":"acme","email":"a@b.io","access_code":"beta-code"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestRegisterRequiresAccessCode(t *testing.T) {
	engine, _ := newRegisterEngine(t, enabledConfig())

	rec := postRegister(engine, `{"username":"acme","email":"a@b.io","access_code":"wrong"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for wrong code, got %d", rec.Code)
	}

	rec = postRegister(engine, `{"username":"acme","email":"a@b.io"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for missing code, got %d", rec.Code)
	}
}

func TestRegisterValidatesUsername(t *testing.T) {
	engine, _ := newRegisterEngine(t, enabledConfig())

	for _, username := range []string{"ab", "has space", "bad-dash", strings.Repeat("x", 51)} {
		rec := postRegister(engine, `{"username":"`+username+`","email":"a@b.io","access_code":"beta-code"}`)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("username %q: expected 400, got %d", username, rec.Code)
		}
	}
}

func TestRegisterValidatesEmail(t *testing.T) {
	cfg := enabledConfig()
	cfg.AllowedEmailDomains = []string{"corp.example"}
	engine, _ := newRegisterEngine(t, cfg)

	rec := postRegister(engine, `{"username":"acme","email":"not-an-email","access_code":"beta-code"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed email, got %d", rec.Code)
	}

	rec = postRegister(engine, `{"username":"acme","email":"a@elsewhere.io","access_code":"beta-code"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for disallowed domain, got %d", rec.Code)
	}

	rec = postRegister(engine, `{"username":"acme","email":"a@CORP.example","access_code":"beta-code"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 for allowed domain, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRegisterCreatesTeamWithDefaults(t *testing.T) {
	engine, teams := newRegisterEngine(t, enabledConfig())

	rec := postRegister(engine, `{"username":"acme_team","email":"Ops@Acme.IO","access_code":"beta-code"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	body := rec.Body.String()
	token := gjson.Get(body, "token").String()
	if !strings.HasPrefix(token, "tr_") || len(token) != len("tr_")+64 {
		t.Fatalf("expected a tr_-prefixed 64-hex token, got %q", token)
	}
	if gjson.Get(body, "quota_tokens").Int() != 500000 || gjson.Get(body, "max_requests_per_minute").Int() != 60 {
		t.Fatalf("registration defaults not applied: %s", body)
	}

	team, errGet := teams.GetByToken(context.Background(), token)
	if errGet != nil {
		t.Fatalf("token should resolve the team: %v", errGet)
	}
	if !team.IsActive {
		t.Fatalf("registered teams start active")
	}
	if team.Email == nil || *team.Email != "ops@acme.io" {
		t.Fatalf("email should be stored lowercase, got %v", team.Email)
	}
}

func TestRegisterDuplicateUsername(t *testing.T) {
	engine, teams := newRegisterEngine(t, enabledConfig())

	existing := &models.Team{
		Name:                 "acme",
		Token:                "tr_existing",
		QuotaTokens:          1000,
		MaxRequestsPerMinute: 30,
		IsActive:             true,
	}
	if errCreate := teams.Create(context.Background(), existing); errCreate != nil {
		t.Fatalf("seed team: %v", errCreate)
	}

	rec := postRegister(engine, `{"username":"acme","email":"a@b.io","access_code":"beta-code"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for duplicate username, got %d", rec.Code)
	}
}
