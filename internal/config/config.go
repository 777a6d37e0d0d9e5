package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration shared by the API and worker Lambdas.
type Config struct {
	LogLevel string
	RunLocal bool
	Addr     string

	AWSRegion   string
	AWSEndpoint string

	SessionsTable          string
	LeaderboardIndex       string
	LeaderboardLimit       int
	LeaderboardPageSize    int32
	AcceptClientTimestamps bool

	AuthJWTSecret string

	SessionEventsQueueURL string
	ProcessedEventsTable  string
	ProcessedEventsTTL    time.Duration
	// ProcessedEventsStaleAfter is how long an IN_PROGRESS record may sit before another
	// delivery takes it over; keep it above the worker Lambda timeout.
	ProcessedEventsStaleAfter time.Duration
	MetricsNamespace          string
}

// Load reads configuration from the environment, after loading a .env file if one exists.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		Addr:                  getEnv("ADDR", ":8080"),
		AWSRegion:             getEnv("AWS_REGION", "us-east-1"),
		AWSEndpoint:           getEnv("DYNAMODB_ENDPOINT", os.Getenv("AWS_ENDPOINT_OVERRIDE")),
		SessionsTable:         getEnv("SESSIONS_TABLE", "Sessions"),
		LeaderboardIndex:      getEnv("LEADERBOARD_INDEX", "status-duration-index"),
		AuthJWTSecret:         os.Getenv("AUTH_JWT_SECRET"),
		SessionEventsQueueURL: os.Getenv("SESSION_EVENTS_QUEUE_URL"),
		ProcessedEventsTable:  getEnv("PROCESSED_EVENTS_TABLE", "ProcessedSessionEvents"),
		MetricsNamespace:      getEnv("METRICS_NAMESPACE", "SessionTimer"),
	}

	var err error
	if cfg.RunLocal, err = getBool("RUN_LOCAL", false); err != nil {
		return nil, err
	}
	if cfg.AcceptClientTimestamps, err = getBool("ACCEPT_CLIENT_TIMESTAMPS", false); err != nil {
		return nil, err
	}
	if cfg.LeaderboardLimit, err = getInt("LEADERBOARD_LIMIT", 10); err != nil {
		return nil, err
	}
	if cfg.LeaderboardLimit < 1 {
		return nil, fmt.Errorf("LEADERBOARD_LIMIT must be positive, got %d", cfg.LeaderboardLimit)
	}
	pageSize, err := getInt("LEADERBOARD_PAGE_SIZE", 25)
	if err != nil {
		return nil, err
	}
	if pageSize < 1 {
		return nil, fmt.Errorf("LEADERBOARD_PAGE_SIZE must be positive, got %d", pageSize)
	}
	cfg.LeaderboardPageSize = int32(pageSize)

	ttl := getEnv("PROCESSED_EVENTS_TTL", "48h")
	if cfg.ProcessedEventsTTL, err = time.ParseDuration(ttl); err != nil {
		return nil, fmt.Errorf("PROCESSED_EVENTS_TTL must be a duration: %w", err)
	}
	stale := getEnv("PROCESSED_EVENTS_STALE_AFTER", "15m")
	if cfg.ProcessedEventsStaleAfter, err = time.ParseDuration(stale); err != nil {
		return nil, fmt.Errorf("PROCESSED_EVENTS_STALE_AFTER must be a duration: %w", err)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a valid integer: %w", key, err)
	}
	return n, nil
}

func getBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean: %w", key, err)
	}
	return b, nil
}
