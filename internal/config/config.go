// Package config handles application configuration and environment loading.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Backend kinds selectable via SHELF_BACKEND.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// Config holds the configuration for the object-store HTTP server.
type Config struct {
	ListenAddr string // HTTP listen address (default ":8888")
	Backend    string // storage backend: "memory" (default) or "sqlite"
	DBPath     string // path to the SQLite file (required for sqlite backend)
	JWTSecret  string // HS256 shared secret for Bearer token auth (optional)
	LogLevel   string // log level: debug, info, warn, error (default "info")
	Env        string // environment: "development" (default) or "production"

	// Rate limiting
	RateLimitRPS   float64 // sustained requests per second (default 100)
	RateLimitBurst int     // burst capacity (default 200)

	// CORS
	CORSAllowedOrigins []string // allowed origins for CORS (default: ["*"])
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsProduction returns true when the server is running in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Backend != BackendMemory && c.Backend != BackendSQLite {
		return fmt.Errorf("invalid SHELF_BACKEND %q: must be %q or %q", c.Backend, BackendMemory, BackendSQLite)
	}
	if c.Backend == BackendSQLite && c.DBPath == "" {
		return fmt.Errorf("SHELF_DB_PATH is required when SHELF_BACKEND=sqlite")
	}
	if c.IsProduction() && c.Backend == BackendMemory {
		return fmt.Errorf("the memory backend does not persist: use SHELF_BACKEND=sqlite in production")
	}
	return nil
}

// LoadFromEnv loads configuration from environment variables, applying
// defaults for anything unset.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		ListenAddr: os.Getenv("SHELF_LISTEN_ADDR"),
		Backend:    os.Getenv("SHELF_BACKEND"),
		DBPath:     os.Getenv("SHELF_DB_PATH"),
		JWTSecret:  os.Getenv("SHELF_JWT_SECRET"),
		LogLevel:   os.Getenv("SHELF_LOG_LEVEL"),
		Env:        os.Getenv("SHELF_ENV"),
	}

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8888"
	}
	if cfg.Backend == "" {
		cfg.Backend = BackendMemory
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Env == "" {
		cfg.Env = "development"
	}

	cfg.RateLimitRPS = 100
	if v := os.Getenv("SHELF_RATE_LIMIT_RPS"); v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil || rps <= 0 {
			return nil, fmt.Errorf("invalid SHELF_RATE_LIMIT_RPS %q", v)
		}
		cfg.RateLimitRPS = rps
	}
	cfg.RateLimitBurst = 200
	if v := os.Getenv("SHELF_RATE_LIMIT_BURST"); v != "" {
		burst, err := strconv.Atoi(v)
		if err != nil || burst <= 0 {
			return nil, fmt.Errorf("invalid SHELF_RATE_LIMIT_BURST %q", v)
		}
		cfg.RateLimitBurst = burst
	}

	cfg.CORSAllowedOrigins = []string{"*"}
	if v := os.Getenv("SHELF_CORS_ORIGINS"); v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		if len(origins) > 0 {
			cfg.CORSAllowedOrigins = origins
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
