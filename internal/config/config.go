package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full application configuration.
type Config struct {
	Host string `yaml:"host"` // Listen address.
	Port int    `yaml:"port"` // Listen port.

	DatabaseURL string `yaml:"database-url"` // GORM DSN, sqlite path or postgres URL.

	Provider ProviderConfig `yaml:"provider"` // Upstream provider settings.

	DefaultModel  string   `yaml:"default-model"`  // Model suggested to callers.
	AllowedModels []string `yaml:"allowed-models"` // Operator-configured model allowlist.

	Admin        AdminConfig        `yaml:"admin"`        // Admin API settings.
	Registration RegistrationConfig `yaml:"registration"` // Self-service registration settings.
	RateLimit    RateLimitConfig    `yaml:"rate-limit"`   // Rate limiter backend settings.
	Logging      LoggingConfig      `yaml:"logging"`      // Server log settings.
}

// ProviderConfig describes the single upstream LLM provider.
type ProviderConfig struct {
	BaseURL        string `yaml:"base-url"`        // Provider API base URL.
	APIKey         string `yaml:"api-key"`         // Provider API key.
	TimeoutSeconds int    `yaml:"timeout-seconds"` // Forwarding timeout in seconds.
}

// Timeout returns the forwarding timeout as a duration.
func (p ProviderConfig) Timeout() time.Duration {
	if p.TimeoutSeconds <= 0 {
		return 120 * time.Second
	}
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// AdminConfig holds admin API credentials.
type AdminConfig struct {
	Password  string `yaml:"password"`   // Shared admin password, plaintext or bcrypt hash.
	JWTSecret string `yaml:"jwt-secret"` // HMAC secret for admin session tokens.
}

// RegistrationConfig gates self-service team registration.
type RegistrationConfig struct {
	Enabled                 bool     `yaml:"enabled"`                     // Whether /register is open.
	AccessCodes             []string `yaml:"access-codes"`                // Codes accepted at registration.
	AllowedEmailDomains     []string `yaml:"allowed-email-domains"`       // Accepted email domains; empty allows all.
	DefaultQuotaTokens      int64    `yaml:"default-quota-tokens"`        // Quota granted to new teams.
	DefaultRequestsPerMin   int      `yaml:"default-requests-per-minute"` // Rate limit granted to new teams.
}

// RateLimitConfig selects the rate limiter backend.
type RateLimitConfig struct {
	Backend   string `yaml:"backend"`    // "memory" (default) or "redis".
	RedisAddr string `yaml:"redis-addr"` // Redis address when backend is redis.
}

// LoggingConfig controls logrus level and file rotation.
type LoggingConfig struct {
	Level      string `yaml:"level"`        // Logrus level name.
	Directory  string `yaml:"directory"`    // Directory for rotated server logs.
	MaxSizeMB  int    `yaml:"max-size-mb"`  // Rotation size threshold.
	MaxBackups int    `yaml:"max-backups"`  // Rotated files to keep.
	MaxAgeDays int    `yaml:"max-age-days"` // Retention in days.
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Host:          "0.0.0.0",
		Port:          8000,
		DatabaseURL:   "data/tokenrouter.db",
		DefaultModel:  "gpt-5-nano",
		AllowedModels: []string{"GPT-5-nano", "GPT-5-mini", "Gemini-2.5-flash", "Gemini-2.5-pro"},
		Provider: ProviderConfig{
			BaseURL:        "https://api.poe.com/v1",
			TimeoutSeconds: 120,
		},
		Admin: AdminConfig{Password: "admin123"},
		Registration: RegistrationConfig{
			DefaultQuotaTokens:    500000,
			DefaultRequestsPerMin: 60,
		},
		RateLimit: RateLimitConfig{Backend: "memory"},
		Logging: LoggingConfig{
			Level:      "info",
			Directory:  "logs",
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
	}
}

// Load reads the YAML config at path, falling back to defaults when the file
// is missing, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if errUnmarshal := yaml.Unmarshal(data, cfg); errUnmarshal != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, errUnmarshal)
			}
		case os.IsNotExist(err):
			// Missing file is fine, env and defaults carry the configuration.
		default:
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if errValidate := cfg.Validate(); errValidate != nil {
		return nil, errValidate
	}
	return cfg, nil
}

// applyEnvOverrides applies the environment variables the original deployment uses.
func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("PROVIDER_API_KEY")); v != "" {
		cfg.Provider.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("PROVIDER_BASE_URL")); v != "" {
		cfg.Provider.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("DATABASE_URL")); v != "" {
		cfg.DatabaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("ADMIN_PASSWORD")); v != "" {
		cfg.Admin.Password = v
	}
	if v := strings.TrimSpace(os.Getenv("DEFAULT_MODEL")); v != "" {
		cfg.DefaultModel = v
	}
	if v := strings.TrimSpace(os.Getenv("ALLOWED_MODELS")); v != "" {
		cfg.AllowedModels = splitModels(v)
	}
	if v := strings.TrimSpace(os.Getenv("HOST")); v != "" {
		cfg.Host = v
	}
	if v := strings.TrimSpace(os.Getenv("PORT")); v != "" {
		if port, errParse := strconv.Atoi(v); errParse == nil && port > 0 {
			cfg.Port = port
		}
	}
}

// splitModels parses a comma-separated model list.
func splitModels(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Validate checks invariants the rest of the system relies on.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	if strings.TrimSpace(c.Provider.BaseURL) == "" {
		return fmt.Errorf("config: provider base-url is required")
	}
	if len(c.AllowedModels) == 0 {
		return fmt.Errorf("config: allowed-models must not be empty")
	}
	switch strings.ToLower(strings.TrimSpace(c.RateLimit.Backend)) {
	case "", "memory":
	case "redis":
		if strings.TrimSpace(c.RateLimit.RedisAddr) == "" {
			return fmt.Errorf("config: rate-limit redis-addr is required for redis backend")
		}
	default:
		return fmt.Errorf("config: unsupported rate-limit backend: %s", c.RateLimit.Backend)
	}
	return nil
}

// Addr returns the host:port listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ModelAllowed reports whether the requested model matches the allowlist,
// case-insensitively.
func (c *Config) ModelAllowed(model string) bool {
	needle := strings.ToLower(strings.TrimSpace(model))
	for _, allowed := range c.AllowedModels {
		if strings.ToLower(strings.TrimSpace(allowed)) == needle {
			return true
		}
	}
	return false
}
