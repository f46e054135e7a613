// Package config builds the process configuration once at startup from the
// environment (optionally seeded from a .env file).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"
	"go.uber.org/zap/zapcore"
)

const (
	EnvStaging    = "staging"
	EnvProduction = "production"

	StoreFile   = "file"
	StoreSQLite = "sqlite"
)

// Config holds the application's configuration values. It is not modified
// after Load returns.
type Config struct {
	Env                 string
	HTTPAddr            string
	DataDir             string
	Store               string
	SQLitePath          string
	CheckInterval       time.Duration
	RotationInterval    time.Duration
	MaxConcurrentCycles int
	OwnerIDLength       int
	AlertPrefix         string
	LogLevel            zapcore.Level
	LogFile             string
	ShutdownGrace       time.Duration

	Twilio     Twilio
	WebhookURL string
}

// Twilio holds SMS gateway credentials. All three must be set for SMS alerts.
type Twilio struct {
	AccountSID string
	AuthToken  string
	FromPhone  string
}

func (t Twilio) Enabled() bool {
	return t.AccountSID != "" && t.AuthToken != "" && t.FromPhone != ""
}

// defaults per environment
type environment struct {
	httpAddr string
	logLevel string
}

var environments = map[string]environment{
	EnvStaging:    {httpAddr: ":3000", logLevel: "debug"},
	EnvProduction: {httpAddr: ":5000", logLevel: "info"},
}

// Load reads envFiles into the environment (variables already set win) and
// builds a Config. Without envFiles an optional ./.env is read.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) > 0 {
		if err := godotenv.Load(envFiles...); err != nil {
			return nil, fmt.Errorf("load env files: %w", err)
		}
	} else if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return fromEnv()
}

func fromEnv() (*Config, error) {
	var errs error

	name := getEnv("UPTIME_ENV", EnvStaging)
	env, ok := environments[name]
	if !ok {
		errs = multierr.Append(errs, fmt.Errorf("UPTIME_ENV: unknown environment %q", name))
		name, env = EnvStaging, environments[EnvStaging]
	}

	dataDir := getEnv("UPTIME_DATA_DIR", ".data")
	cfg := &Config{
		Env:                 name,
		HTTPAddr:            getEnv("UPTIME_HTTP_ADDR", env.httpAddr),
		DataDir:             dataDir,
		Store:               getEnv("UPTIME_STORE", StoreFile),
		SQLitePath:          getEnv("UPTIME_SQLITE_PATH", filepath.Join(dataDir, "uptime.db")),
		CheckInterval:       getEnvDuration("UPTIME_CHECK_INTERVAL", time.Minute),
		RotationInterval:    getEnvDuration("UPTIME_ROTATE_INTERVAL", 24*time.Hour),
		MaxConcurrentCycles: getEnvInt("UPTIME_MAX_CYCLES", 2),
		OwnerIDLength:       getEnvInt("UPTIME_OWNER_ID_LENGTH", 10),
		AlertPrefix:         getEnv("UPTIME_ALERT_PREFIX", "+1"),
		LogFile:             getEnv("UPTIME_LOG_FILE", ""),
		ShutdownGrace:       getEnvDuration("UPTIME_SHUTDOWN_GRACE", 10*time.Second),
		Twilio: Twilio{
			AccountSID: getEnv("TWILIO_ACCOUNT_SID", ""),
			AuthToken:  getEnv("TWILIO_AUTH_TOKEN", ""),
			FromPhone:  getEnv("TWILIO_FROM_PHONE", ""),
		},
		WebhookURL: getEnv("UPTIME_WEBHOOK_URL", ""),
	}

	level, err := zapcore.ParseLevel(getEnv("UPTIME_LOG_LEVEL", env.logLevel))
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("UPTIME_LOG_LEVEL: %w", err))
	}
	cfg.LogLevel = level

	if cfg.Store != StoreFile && cfg.Store != StoreSQLite {
		errs = multierr.Append(errs, fmt.Errorf("UPTIME_STORE: must be %q or %q, got %q", StoreFile, StoreSQLite, cfg.Store))
	}
	if cfg.CheckInterval <= 0 {
		errs = multierr.Append(errs, errors.New("UPTIME_CHECK_INTERVAL: must be positive"))
	}
	if cfg.RotationInterval <= 0 {
		errs = multierr.Append(errs, errors.New("UPTIME_ROTATE_INTERVAL: must be positive"))
	}
	if cfg.MaxConcurrentCycles < 1 {
		errs = multierr.Append(errs, errors.New("UPTIME_MAX_CYCLES: must be at least 1"))
	}
	if cfg.OwnerIDLength < 1 {
		errs = multierr.Append(errs, errors.New("UPTIME_OWNER_ID_LENGTH: must be at least 1"))
	}
	if errs != nil {
		return nil, errs
	}
	return cfg, nil
}

// Helper function to get an environment variable or return a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// Helper function to get an environment variable as an integer.
func getEnvInt(key string, fallback int) int {
	if valueStr, exists := os.LookupEnv(key); exists {
		if value, err := strconv.Atoi(valueStr); err == nil {
			return value
		}
	}
	return fallback
}

// Helper function to get an environment variable as a time.Duration.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if valueStr, exists := os.LookupEnv(key); exists {
		if value, err := time.ParseDuration(valueStr); err == nil {
			return value
		}
	}
	return fallback
}
