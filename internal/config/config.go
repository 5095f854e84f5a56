package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port                  string   `mapstructure:"PORT"`
	Env                   string   `mapstructure:"ENV"`
	AuthMode              string   `mapstructure:"AUTH_MODE"`
	DatabaseURL           string   `mapstructure:"DATABASE_URL"`
	DBMaxConns            int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns            int32    `mapstructure:"DB_MIN_CONNS"`
	RedisURL              string   `mapstructure:"REDIS_URL"`
	AuthIssuer            string   `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL           string   `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience          string   `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey        string   `mapstructure:"AUTH_SIGNING_KEY"`
	DefaultTenant         string   `mapstructure:"DEFAULT_TENANT"`
	CORSOrigins           []string `mapstructure:"CORS_ORIGINS"`
	LogFormat             string   `mapstructure:"LOG_FORMAT"`
	TimezoneOffsetHours   int      `mapstructure:"TIMEZONE_OFFSET_HOURS"`
	YenPerPoint           int      `mapstructure:"YEN_PER_POINT"`
	LongVisitMinutes      int      `mapstructure:"LONG_VISIT_MINUTES"`
	LockTTLSeconds        int      `mapstructure:"LOCK_TTL_SECONDS"`
	RequestTimeoutSeconds int      `mapstructure:"REQUEST_TIMEOUT_SECONDS"`
	MigrationsDir         string   `mapstructure:"MIGRATIONS_DIR"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("AUTH_MODE", "") // "" -> inferred from ENV
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DEFAULT_TENANT", "default")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("LOG_FORMAT", "")
	v.SetDefault("TIMEZONE_OFFSET_HOURS", 9)
	v.SetDefault("YEN_PER_POINT", 10)
	v.SetDefault("LONG_VISIT_MINUTES", 90)
	v.SetDefault("LOCK_TTL_SECONDS", 10)
	v.SetDefault("REQUEST_TIMEOUT_SECONDS", 30)
	v.SetDefault("MIGRATIONS_DIR", "./migrations")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"PORT", "ENV", "AUTH_MODE", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
		"REDIS_URL", "AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY",
		"DEFAULT_TENANT", "CORS_ORIGINS", "LOG_FORMAT", "TIMEZONE_OFFSET_HOURS",
		"YEN_PER_POINT", "LONG_VISIT_MINUTES", "LOCK_TTL_SECONDS",
		"REQUEST_TIMEOUT_SECONDS", "MIGRATIONS_DIR",
	} {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.LogFormat == "" {
		cfg.LogFormat = "json"
		if cfg.IsDev() {
			cfg.LogFormat = "text"
		}
	}

	if cfg.IsDev() {
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: DevAuthMiddleware is active, all requests get admin access.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAuthMode returns the effective auth mode. If AUTH_MODE is explicitly
// set, it is returned. Otherwise:
//   - ENV=development → "development" (no auth, all requests get admin)
//   - otherwise       → "external" (JWT issued by the agency IdP)
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return "development"
	}
	return "external"
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	mode := c.ResolvedAuthMode()
	if mode != "development" && mode != "external" {
		return fmt.Errorf("AUTH_MODE must be \"development\" or \"external\", got %q", mode)
	}
	if mode == "external" && c.AuthIssuer == "" && c.AuthSigningKey == "" {
		return fmt.Errorf(
			"AUTH_ISSUER or AUTH_SIGNING_KEY must be set when AUTH_MODE is \"external\" (current ENV=%q)", c.Env)
	}
	if c.YenPerPoint <= 0 {
		return fmt.Errorf("YEN_PER_POINT must be positive, got %d", c.YenPerPoint)
	}
	if c.TimezoneOffsetHours < -12 || c.TimezoneOffsetHours > 14 {
		return fmt.Errorf("TIMEZONE_OFFSET_HOURS out of range: %d", c.TimezoneOffsetHours)
	}
	if c.LongVisitMinutes <= 0 {
		return fmt.Errorf("LONG_VISIT_MINUTES must be positive, got %d", c.LongVisitMinutes)
	}
	if c.LockTTLSeconds <= 0 {
		return fmt.Errorf("LOCK_TTL_SECONDS must be positive, got %d", c.LockTTLSeconds)
	}
	return nil
}
