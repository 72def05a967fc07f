package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DBConfFormatTOML   = "toml"
	DBConfFormatLegacy = "legacy"
)

// Config holds all configuration for the panoptes server.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
	Workflow  WorkflowConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

// DatabaseConfig describes where the connection string comes from. URL, when
// set, is used verbatim; otherwise the database configuration file at
// ConfPath (or LegacyConfPath, per ConfFormat) is resolved.
type DatabaseConfig struct {
	URL             string
	ConfPath        string
	ConfFormat      string
	LegacyConfPath  string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type RateLimitConfig struct {
	RequestsPerMinute int
}

type WorkflowConfig struct {
	CacheTTL time.Duration
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any value is invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("PANOPTES_PORT", 8080),
			Env:  envString("PANOPTES_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			ConfPath:        envString("DB_CONF_PATH", ".db_conf.toml"),
			ConfFormat:      envString("DB_CONF_FORMAT", DBConfFormatTOML),
			LegacyConfPath:  envString("DB_CONF_LEGACY_PATH", ".db.conf"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: envInt("RATE_LIMIT_PER_MINUTE", 60),
		},
		Workflow: WorkflowConfig{
			CacheTTL: envDuration("WORKFLOW_CACHE_TTL", 5*time.Minute),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("PANOPTES_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.URL != "" && !strings.Contains(c.Database.URL, "://") {
		return fmt.Errorf("DATABASE_URL must be a URL of the form engine://..., got %q", c.Database.URL)
	}

	switch c.Database.ConfFormat {
	case DBConfFormatTOML, DBConfFormatLegacy:
	default:
		return fmt.Errorf("DB_CONF_FORMAT must be one of toml, legacy; got %q", c.Database.ConfFormat)
	}

	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("DATABASE_MAX_OPEN_CONNS must be positive, got %d", c.Database.MaxOpenConns)
	}

	if c.Redis.URL != "" &&
		!strings.HasPrefix(c.Redis.URL, "redis://") && !strings.HasPrefix(c.Redis.URL, "rediss://") {
		return fmt.Errorf("REDIS_URL must start with redis:// or rediss://, got %q", c.Redis.URL)
	}

	if c.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must be positive, got %d", c.RateLimit.RequestsPerMinute)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
