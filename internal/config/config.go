package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

const (
	StorageMemory   = "in-memory"
	StoragePostgres = "postgres"
)

// Config holds all application configuration
type Config struct {
	Port          string
	StorageType   string
	DatabaseURL   string
	MigrationsDir string
	LogLevel      string
	LogProduction bool
	SyncOnStartup bool
}

// Load loads configuration from environment variables, reading .env first if it exists
func Load() (*Config, error) {
	_ = godotenv.Load()

	syncOnStartup, err := getBool("SYNC_ON_STARTUP", true)
	if err != nil {
		return nil, err
	}
	logProduction, err := getBool("LOG_PRODUCTION", false)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:          getEnv("PORT", "8080"),
		StorageType:   getEnv("STORAGE_TYPE", StorageMemory),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		MigrationsDir: getEnv("MIGRATIONS_DIR", "internal/db/migrations"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogProduction: logProduction,
		SyncOnStartup: syncOnStartup,
	}

	switch cfg.StorageType {
	case StorageMemory:
	case StoragePostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required for %s storage", StoragePostgres)
		}
	default:
		return nil, fmt.Errorf("unknown STORAGE_TYPE %q", cfg.StorageType)
	}
	return cfg, nil
}

// getEnv gets environment variable with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}
