package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for screening-engine
type Config struct {
	Server   ServerConfig
	Log      LogConfig
	Bank     BankConfig
	Sessions SessionsConfig
	Redis    RedisConfig
	Results  ResultsConfig
	Admin    AdminConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string
	Port int
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string
}

// BankConfig holds question bank configuration
type BankConfig struct {
	Dir string
}

// SessionsConfig holds session lifecycle configuration
type SessionsConfig struct {
	IdleHorizon   time.Duration
	SweepInterval time.Duration
}

// RedisConfig holds Redis configuration for session snapshots
type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
}

// ResultsConfig holds result log configuration
type ResultsConfig struct {
	Backend       string // file | sqlite | postgres | pq
	Path          string
	DSN           string
	MigrationsDir string
	RetryAttempts int
	RetryWait     time.Duration
}

// AdminConfig holds admin API keys
type AdminConfig struct {
	APIKey       string
	ViewerAPIKey string
}

// Result log backends
const (
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendPQ       = "pq"
)

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: getEnvAsInt("SERVER_PORT", 8080),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Bank: LoadBank(),
		Sessions: SessionsConfig{
			IdleHorizon:   getEnvAsDuration("SESSION_IDLE_HORIZON", 24*time.Hour),
			SweepInterval: getEnvAsDuration("SESSION_SWEEP_INTERVAL", 5*time.Minute),
		},
		Redis: RedisConfig{
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
			Address:  getEnv("REDIS_ADDRESS", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Results: ResultsConfig{
			Backend:       strings.ToLower(getEnv("RESULTS_BACKEND", BackendFile)),
			Path:          getEnv("RESULTS_PATH", "./data/results.tsv"),
			DSN:           getEnv("RESULTS_DSN", ""),
			MigrationsDir: getEnv("RESULTS_MIGRATIONS_DIR", "./migrations"),
			RetryAttempts: getEnvAsInt("RESULTS_RETRY_ATTEMPTS", 3),
			RetryWait:     getEnvAsDuration("RESULTS_RETRY_WAIT", 200*time.Millisecond),
		},
		Admin: AdminConfig{
			APIKey:       getEnv("ADMIN_API_KEY", ""),
			ViewerAPIKey: getEnv("VIEWER_API_KEY", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadBank reads only the question bank settings, for commands that
// do not start the server
func LoadBank() BankConfig {
	return BankConfig{
		Dir: getEnv("BANK_DIR", "./bank"),
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Bank.Dir == "" {
		return fmt.Errorf("bank directory is required")
	}

	if c.Sessions.IdleHorizon <= 0 {
		return fmt.Errorf("session idle horizon must be positive")
	}

	switch c.Results.Backend {
	case BackendFile:
		if c.Results.Path == "" {
			return fmt.Errorf("results path is required for the file backend")
		}
	case BackendSQLite, BackendPostgres, BackendPQ:
		if c.Results.DSN == "" {
			return fmt.Errorf("results DSN is required for the %s backend", c.Results.Backend)
		}
	default:
		return fmt.Errorf("unknown results backend: %q", c.Results.Backend)
	}

	if c.Results.RetryAttempts < 1 {
		return fmt.Errorf("results retry attempts must be at least 1")
	}

	return nil
}

// SlogLevel maps the configured level name to a slog.Level
func (c LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
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

// Helper functions

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
