package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// AppConfig holds all configuration for the application.
// The values are loaded from environment variables.
type AppConfig struct {
	// Core settings
	Port         string
	DatabasePath string
	LogLevel     string

	// Request limits
	MaxBodyBytes int64

	// IRR calculation cache settings
	IRRCacheTTL             time.Duration
	IRRCacheCleanupInterval time.Duration

	// Summary report cache settings
	SummaryCacheTTL             time.Duration
	SummaryCacheCleanupInterval time.Duration
}

// Cfg is a global instance of the AppConfig.
var Cfg *AppConfig

// LoadConfig loads configuration from environment variables or a .env file.
// It centralizes all configuration logic for the application.
func LoadConfig() {
	// 1. Try loading from the current directory (standard behavior)
	errEnv := godotenv.Load()

	// 2. If not found, try loading from the parent directory (common when running from /backend)
	if errEnv != nil {
		errEnv = godotenv.Load("../.env")
	}

	if errEnv != nil {
		if os.IsNotExist(errEnv) {
			log.Println("Info: No .env file found in current or parent directory. Relying on OS environment variables (expected in production).")
		} else {
			log.Printf("Warning: Error loading .env file: %v. Relying on OS environment variables.", errEnv)
		}
	} else {
		log.Println(".env file loaded successfully.")
	}

	log.Println("Loading application configuration...")

	maxBodyBytesStr := getEnv("MAX_BODY_BYTES", "1048576") // 1MB default
	maxBodyBytes, err := strconv.ParseInt(maxBodyBytesStr, 10, 64)
	if err != nil {
		log.Printf("WARNING: Invalid MAX_BODY_BYTES format '%s'. Using default 1MB. Error: %v", maxBodyBytesStr, err)
		maxBodyBytes = 1024 * 1024
	}

	irrCacheTTLMinutes := getEnvAsInt("IRR_CACHE_TTL_MINUTES", 30)

	Cfg = &AppConfig{
		// Core
		Port:         getEnv("PORT", "8080"),
		DatabasePath: getEnv("DATABASE_PATH", "./wealthvisor.db"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),

		// Request limits
		MaxBodyBytes: maxBodyBytes,

		// Caches
		IRRCacheTTL:                 time.Duration(irrCacheTTLMinutes) * time.Minute,
		IRRCacheCleanupInterval:     getEnvAsDuration("IRR_CACHE_CLEANUP_INTERVAL", 10*time.Minute),
		SummaryCacheTTL:             getEnvAsDuration("SUMMARY_CACHE_TTL", 15*time.Minute),
		SummaryCacheCleanupInterval: getEnvAsDuration("SUMMARY_CACHE_CLEANUP_INTERVAL", 30*time.Minute),
	}

	log.Printf("Configuration loaded: Port=%s, LogLevel=%s, DBPath=%s, IRRCacheTTL=%s",
		Cfg.Port, Cfg.LogLevel, Cfg.DatabasePath, Cfg.IRRCacheTTL)
}

// getEnv retrieves an environment variable or returns a fallback value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	log.Printf("Environment variable %s not set, using default: %s", key, fallback)
	return fallback
}

// getEnvAsInt retrieves an environment variable as an integer or returns a fallback.
func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	log.Printf("Invalid integer value for %s ('%s'), using default: %d", key, valueStr, fallback)
	return fallback
}

// getEnvAsDuration retrieves an environment variable as a time.Duration or returns a fallback.
func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	log.Printf("Invalid duration value for %s ('%s'), using default: %s", key, valueStr, fallback.String())
	return fallback
}
