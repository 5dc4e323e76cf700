package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	AuthModeDevelopment = "development"
	AuthModeJWT         = "jwt"

	ClearinghouseSimulated = "simulated"
	ClearinghouseHTTP      = "http"
)

type Config struct {
	Port          string `mapstructure:"PORT"`
	Env           string `mapstructure:"ENV"`
	LogLevel      string `mapstructure:"LOG_LEVEL"`
	DatabaseURL   string `mapstructure:"DATABASE_URL"`
	DBMaxConns    int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns    int32  `mapstructure:"DB_MIN_CONNS"`
	DefaultTenant string `mapstructure:"DEFAULT_TENANT"`
	// MigrationsDir overrides the embedded migrations when set.
	MigrationsDir string `mapstructure:"MIGRATIONS_DIR"`

	AuthMode       string `mapstructure:"AUTH_MODE"`
	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL    string `mapstructure:"AUTH_JWKS_URL"`
	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`

	ClearinghouseMode       string        `mapstructure:"CLEARINGHOUSE_MODE"`
	ClearinghouseTimeout    time.Duration `mapstructure:"CLEARINGHOUSE_TIMEOUT"`
	ClearinghouseMaxRetries int           `mapstructure:"CLEARINGHOUSE_MAX_RETRIES"`
	ClearinghouseRateLimit  float64       `mapstructure:"CLEARINGHOUSE_RATE_LIMIT_RPS"`
	ClearinghouseSimSeed    int64         `mapstructure:"CLEARINGHOUSE_SIM_SEED"`

	X12SegmentTerminator string `mapstructure:"X12_SEGMENT_TERMINATOR"`
	X12UsageIndicator    string `mapstructure:"X12_USAGE_INDICATOR"`

	BatchConcurrency int           `mapstructure:"BATCH_CONCURRENCY"`
	PollInterval     time.Duration `mapstructure:"POLL_INTERVAL"`
	// PollTenants lists the tenants the background poller visits. Empty
	// means only DefaultTenant.
	PollTenants []string `mapstructure:"POLL_TENANTS"`
}

var defaults = map[string]interface{}{
	"PORT":                         "8000",
	"ENV":                          "development",
	"LOG_LEVEL":                    "info",
	"DB_MAX_CONNS":                 20,
	"DB_MIN_CONNS":                 5,
	"DEFAULT_TENANT":               "default",
	"AUTH_MODE":                    "",
	"CLEARINGHOUSE_MODE":           ClearinghouseSimulated,
	"CLEARINGHOUSE_TIMEOUT":        "30s",
	"CLEARINGHOUSE_MAX_RETRIES":    3,
	"CLEARINGHOUSE_RATE_LIMIT_RPS": 10,
	"CLEARINGHOUSE_SIM_SEED":       1,
	"X12_SEGMENT_TERMINATOR":       "newline",
	"X12_USAGE_INDICATOR":          "P",
	"BATCH_CONCURRENCY":            1,
	"POLL_INTERVAL":                "0s",
}

var envKeys = []string{
	"PORT", "ENV", "LOG_LEVEL", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"DEFAULT_TENANT", "MIGRATIONS_DIR",
	"AUTH_MODE", "AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_JWKS_URL", "AUTH_SIGNING_KEY",
	"CLEARINGHOUSE_MODE", "CLEARINGHOUSE_TIMEOUT", "CLEARINGHOUSE_MAX_RETRIES",
	"CLEARINGHOUSE_RATE_LIMIT_RPS", "CLEARINGHOUSE_SIM_SEED",
	"X12_SEGMENT_TERMINATOR", "X12_USAGE_INDICATOR",
	"BATCH_CONCURRENCY", "POLL_INTERVAL", "POLL_TENANTS",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	// Bind explicitly so Unmarshal sees variables without a default.
	for _, k := range envKeys {
		_ = v.BindEnv(k)
	}

	// A missing .env is fine.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.PollTenants = splitList(strings.Join(cfg.PollTenants, ","))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.ResolvedAuthMode() == AuthModeDevelopment {
		log.Println("WARNING: development auth is active; anonymous requests get admin access.")
		log.Println("WARNING: set ENV=production and AUTH_ISSUER or AUTH_SIGNING_KEY before deploying.")
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAuthMode returns AUTH_MODE when set. Otherwise development
// environments without token settings use development auth and everything
// else verifies JWTs.
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() && c.AuthIssuer == "" && c.AuthJWKSURL == "" && c.AuthSigningKey == "" {
		return AuthModeDevelopment
	}
	return AuthModeJWT
}

// SegmentTerminator maps X12_SEGMENT_TERMINATOR to a byte. "newline" and
// "tilde" are accepted by name, any other value must be one character.
func (c *Config) SegmentTerminator() (byte, error) {
	switch strings.ToLower(c.X12SegmentTerminator) {
	case "", "newline", `\n`:
		return '\n', nil
	case "tilde":
		return '~', nil
	}
	if len(c.X12SegmentTerminator) != 1 {
		return 0, fmt.Errorf("X12_SEGMENT_TERMINATOR must be a single character, got %q", c.X12SegmentTerminator)
	}
	return c.X12SegmentTerminator[0], nil
}

// PollTenantIDs returns the tenants the background poller visits.
func (c *Config) PollTenantIDs() []string {
	if len(c.PollTenants) == 0 {
		return []string{c.DefaultTenant}
	}
	return c.PollTenants
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	switch mode := c.ResolvedAuthMode(); mode {
	case AuthModeDevelopment:
		if c.IsProduction() {
			return fmt.Errorf("AUTH_MODE=development is not allowed in production")
		}
	case AuthModeJWT:
		if c.AuthIssuer == "" && c.AuthJWKSURL == "" && c.AuthSigningKey == "" {
			return fmt.Errorf("AUTH_MODE=jwt requires AUTH_ISSUER, AUTH_JWKS_URL or AUTH_SIGNING_KEY")
		}
	default:
		return fmt.Errorf("AUTH_MODE must be %q or %q, got %q", AuthModeDevelopment, AuthModeJWT, mode)
	}

	if c.ClearinghouseMode != ClearinghouseSimulated && c.ClearinghouseMode != ClearinghouseHTTP {
		return fmt.Errorf("CLEARINGHOUSE_MODE must be %q or %q, got %q",
			ClearinghouseSimulated, ClearinghouseHTTP, c.ClearinghouseMode)
	}
	if c.ClearinghouseTimeout <= 0 {
		return fmt.Errorf("CLEARINGHOUSE_TIMEOUT must be positive, got %s", c.ClearinghouseTimeout)
	}
	if c.ClearinghouseMaxRetries < 0 {
		return fmt.Errorf("CLEARINGHOUSE_MAX_RETRIES must not be negative")
	}
	if c.ClearinghouseRateLimit < 0 {
		return fmt.Errorf("CLEARINGHOUSE_RATE_LIMIT_RPS must not be negative")
	}

	if c.X12UsageIndicator != "P" && c.X12UsageIndicator != "T" {
		return fmt.Errorf("X12_USAGE_INDICATOR must be P or T, got %q", c.X12UsageIndicator)
	}
	term, err := c.SegmentTerminator()
	if err != nil {
		return err
	}
	switch term {
	case '*', ':', '^':
		return fmt.Errorf("X12_SEGMENT_TERMINATOR %q collides with an X12 separator", term)
	}

	if c.BatchConcurrency < 1 {
		return fmt.Errorf("BATCH_CONCURRENCY must be at least 1")
	}
	if c.PollInterval < 0 {
		return fmt.Errorf("POLL_INTERVAL must not be negative")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	return nil
}
