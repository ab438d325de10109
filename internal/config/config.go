package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverBadger   = "badger"
	DriverSQLite   = "sqlite"
)

var drivers = []string{DriverMemory, DriverPostgres, DriverBadger, DriverSQLite}

// Config holds application configuration
type Config struct {
	Port        string `envconfig:"PORT" default:"8080"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"` // development, staging, production
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`

	StoreDriver string `envconfig:"STORE_DRIVER" default:"memory"`
	DatabaseURL string `envconfig:"DATABASE_URL"`
	BadgerPath  string `envconfig:"BADGER_PATH" default:"data/badger"`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:"data/room-broker.db"`

	// Optional collaborators, disabled when empty
	RabbitMQURL string `envconfig:"RABBITMQ_URL"`
	RedisURL    string `envconfig:"REDIS_URL"`

	AllowedOrigins string `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:3000,http://localhost:8080"`

	SessionSendBuffer int     `envconfig:"SESSION_SEND_BUFFER" default:"256"`
	SessionSendRate   float64 `envconfig:"SESSION_SEND_RATE" default:"10"`
	SessionSendBurst  int     `envconfig:"SESSION_SEND_BURST" default:"20"`
	HTTPRateLimit     float64 `envconfig:"HTTP_RATE_LIMIT" default:"20"`
	HTTPRateBurst     int     `envconfig:"HTTP_RATE_BURST" default:"40"`

	// OpenAPIValidation defaults to on outside production when unset
	OpenAPIValidation string        `envconfig:"OPENAPI_VALIDATION"`
	ShutdownTimeout   time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`
}

// Load reads an optional .env file, then the environment, and validates the result
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load .env file: %w", err)
		}
		slog.Debug("no .env file found, using environment variables")
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate checks configuration for consistency and production safety
func (c *Config) Validate() error {
	if !slices.Contains(drivers, c.StoreDriver) {
		return fmt.Errorf("STORE_DRIVER must be one of %v (got %q)", drivers, c.StoreDriver)
	}

	switch c.StoreDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=%s", DriverPostgres)
		}
	case DriverBadger:
		if c.BadgerPath == "" {
			return fmt.Errorf("BADGER_PATH is required when STORE_DRIVER=%s", DriverBadger)
		}
	case DriverSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required when STORE_DRIVER=%s", DriverSQLite)
		}
	}

	if c.SessionSendBuffer <= 0 {
		return fmt.Errorf("SESSION_SEND_BUFFER must be positive (got %d)", c.SessionSendBuffer)
	}
	if c.SessionSendRate < 0 {
		return fmt.Errorf("SESSION_SEND_RATE must not be negative (got %v)", c.SessionSendRate)
	}
	if c.SessionSendRate > 0 && c.SessionSendBurst < 1 {
		return fmt.Errorf("SESSION_SEND_BURST must be at least 1 when SESSION_SEND_RATE is set (got %d)", c.SessionSendBurst)
	}
	if c.HTTPRateLimit <= 0 || c.HTTPRateBurst < 1 {
		return fmt.Errorf("HTTP_RATE_LIMIT and HTTP_RATE_BURST must be positive")
	}
	if c.OpenAPIValidation != "" {
		if _, err := strconv.ParseBool(c.OpenAPIValidation); err != nil {
			return fmt.Errorf("OPENAPI_VALIDATION must be a boolean (got %q)", c.OpenAPIValidation)
		}
	}

	if c.IsProduction() {
		if c.StoreDriver == DriverMemory {
			return fmt.Errorf("STORE_DRIVER=%s loses every message on restart and is not allowed in production", DriverMemory)
		}
		if slices.Contains(c.Origins(), "*") {
			return fmt.Errorf("ALLOWED_ORIGINS must list explicit origins in production")
		}
	}

	return nil
}

// ValidateRequests reports whether requests are checked against the OpenAPI document
func (c *Config) ValidateRequests() bool {
	if enabled, err := strconv.ParseBool(c.OpenAPIValidation); err == nil {
		return enabled
	}
	return !c.IsProduction()
}

// Origins splits ALLOWED_ORIGINS, dropping blanks
func (c *Config) Origins() []string {
	var origins []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev" || c.Environment == ""
}
