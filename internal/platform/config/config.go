package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

type Config struct {
	Addr                  string
	Environment           string
	StoreDriver           string
	DatabaseURL           string
	MigrationsDir         string
	RunMigrations         bool
	RunSeed               bool
	DirectoryFile         string
	JWTSecret             string
	RedisURL              string
	ReportCacheTTL        time.Duration
	TransitionTimeout     time.Duration
	MaxBodyBytes          int64
	RateLimitPerMinute    int
	RollupRebuildInterval time.Duration
	MetricsEnabled        bool
}

// LoadDotEnv reads .env files into the environment without overriding
// variables that are already set. A missing file is not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var present []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			present = append(present, f)
		}
	}
	if len(present) == 0 {
		return nil
	}
	return godotenv.Load(present...)
}

func Load() Config {
	return Config{
		Addr:                  getEnv("APP_ADDR", ":8080"),
		Environment:           getEnv("APP_ENV", "development"),
		StoreDriver:           strings.ToLower(getEnv("STORE_DRIVER", StoreDriverPostgres)),
		DatabaseURL:           getEnv("DATABASE_URL", ""),
		MigrationsDir:         getEnv("MIGRATIONS_DIR", "migrations"),
		RunMigrations:         getEnvBool("RUN_MIGRATIONS", true),
		RunSeed:               getEnvBool("RUN_SEED", true),
		DirectoryFile:         getEnv("DIRECTORY_FILE", ""),
		JWTSecret:             getEnv("JWT_SECRET", ""),
		RedisURL:              getEnv("REDIS_URL", ""),
		ReportCacheTTL:        getEnvDuration("REPORT_CACHE_TTL", 5*time.Minute),
		TransitionTimeout:     getEnvDuration("TRANSITION_TIMEOUT", 5*time.Second),
		MaxBodyBytes:          int64(getEnvInt("MAX_BODY_BYTES", 1048576)),
		RateLimitPerMinute:    getEnvInt("RATE_LIMIT_PER_MINUTE", 120),
		RollupRebuildInterval: getEnvDuration("ROLLUP_REBUILD_INTERVAL", time.Hour),
		MetricsEnabled:        getEnvBool("METRICS_ENABLED", true),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func (c Config) Validate() error {
	switch c.StoreDriver {
	case StoreDriverPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER is postgres")
		}
	case StoreDriverMemory:
		if strings.TrimSpace(c.DirectoryFile) == "" {
			return fmt.Errorf("DIRECTORY_FILE is required when STORE_DRIVER is memory")
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q", StoreDriverPostgres, StoreDriverMemory)
	}
	if strings.TrimSpace(c.JWTSecret) == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.Environment == "production" && len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters in production")
	}
	if c.TransitionTimeout <= 0 {
		return fmt.Errorf("TRANSITION_TIMEOUT must be positive")
	}
	if c.MaxBodyBytes < 1024 {
		return fmt.Errorf("MAX_BODY_BYTES must be at least 1024")
	}
	if c.RateLimitPerMinute <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must be positive")
	}
	if c.RedisURL != "" && c.ReportCacheTTL <= 0 {
		return fmt.Errorf("REPORT_CACHE_TTL must be positive when REDIS_URL is set")
	}
	return nil
}
