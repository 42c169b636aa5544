package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds application configuration
type Config struct {
	Port        string
	Env         string
	DatabaseURL string
	GitHubToken string

	DBMaxConns int
	DBMinConns int

	// Synchronization
	SyncLookback       time.Duration
	SyncPageSize       int
	SyncMaxPages       int
	SyncWorkers        int
	GitHubFetchTimeout time.Duration
	SnowflakeNode      int64
}

// Load reads configuration from environment variables.
// Returns an error if required variables are missing or malformed.
func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	ghToken := os.Getenv("GITHUB_TOKEN")
	if ghToken == "" {
		return nil, fmt.Errorf("GITHUB_TOKEN is required")
	}

	pageSize := getInt("SYNC_PAGE_SIZE", 100)

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Env:         getEnv("ENV", "development"),
		DatabaseURL: dbURL,
		GitHubToken: ghToken,

		DBMaxConns: getInt("DB_MAX_CONNS", 25),
		DBMinConns: getInt("DB_MIN_CONNS", 5),

		SyncLookback:       getDuration("SYNC_LOOKBACK", 365*24*time.Hour),
		SyncPageSize:       pageSize,
		SyncMaxPages:       getInt("SYNC_MAX_PAGES", feedPages(pageSize)),
		SyncWorkers:        getInt("SYNC_WORKERS", 4),
		GitHubFetchTimeout: getDuration("GITHUB_FETCH_TIMEOUT", 20*time.Second),
		SnowflakeNode:      int64(getInt("SNOWFLAKE_NODE", 1)),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsProduction reports whether the service runs with ENV=production
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func (c *Config) validate() error {
	if c.SyncLookback <= 0 {
		return fmt.Errorf("SYNC_LOOKBACK must be positive, got %s", c.SyncLookback)
	}
	if c.SyncPageSize < 1 || c.SyncPageSize > 100 {
		return fmt.Errorf("SYNC_PAGE_SIZE must be between 1 and 100, got %d", c.SyncPageSize)
	}
	if c.SyncMaxPages < 1 {
		return fmt.Errorf("SYNC_MAX_PAGES must be at least 1, got %d", c.SyncMaxPages)
	}
	if c.SyncWorkers < 1 {
		return fmt.Errorf("SYNC_WORKERS must be at least 1, got %d", c.SyncWorkers)
	}
	if c.GitHubFetchTimeout <= 0 {
		return fmt.Errorf("GITHUB_FETCH_TIMEOUT must be positive, got %s", c.GitHubFetchTimeout)
	}
	// snowflake reserves 10 bits for the node
	if c.SnowflakeNode < 0 || c.SnowflakeNode > 1023 {
		return fmt.Errorf("SNOWFLAKE_NODE must be between 0 and 1023, got %d", c.SnowflakeNode)
	}
	return nil
}

// feedPages is how many pages of pageSize cover the 300 events GitHub keeps
// in an account's events feed
func feedPages(pageSize int) int {
	if pageSize < 1 {
		return 1
	}
	return (300 + pageSize - 1) / pageSize
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
