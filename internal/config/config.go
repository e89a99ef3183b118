// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/postreview/internal/backend"
	"github.com/ashureev/postreview/internal/ratelimit"
)

// Config holds all application configuration.
type Config struct {
	Port              string
	GRPCHealthAddr    string // empty disables the gRPC health server
	FrontendURL       string
	DBPath            string
	LogLevel          string
	ReferenceDataPath string // empty uses the embedded catalog

	Hosted BackendConfig
	Local  BackendConfig

	BackendTimeout     time.Duration
	UnhealthyErrorRate float64
	HealthMinSamples   int

	SessionIdleTimeout     time.Duration
	SessionCleanupSchedule string
	RequestTimeout         time.Duration

	ReviewerRateLimit int // requests per minute
	ReviewerRateBurst int

	Transcript TranscriptConfig
}

// TranscriptConfig controls per-session NDJSON conversation transcripts.
type TranscriptConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// BackendConfig configures one model backend and its call budget.
type BackendConfig struct {
	APIKey            string
	BaseURL           string
	Model             string
	RequestsPerMinute int
	MaxRetries        int
	InitialBackoff    time.Duration
	BackoffMultiplier float64
}

// Budget converts the backend settings into a limiter budget.
func (b BackendConfig) Budget() ratelimit.Budget {
	return ratelimit.Budget{
		RequestsPerMinute: b.RequestsPerMinute,
		MaxRetries:        b.MaxRetries,
		InitialBackoff:    b.InitialBackoff,
		Multiplier:        b.BackoffMultiplier,
	}
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:              getEnv("PORT", "8080"),
		GRPCHealthAddr:    getEnv("GRPC_HEALTH_ADDR", ":9090"),
		FrontendURL:       getEnv("FRONTEND_URL", ""),
		DBPath:            getEnv("DB_PATH", "./data/review.db"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		ReferenceDataPath: getEnv("REFERENCE_DATA_PATH", ""),
		Hosted: BackendConfig{
			APIKey:            getEnv("HOSTED_API_KEY", ""),
			Model:             getEnv("HOSTED_MODEL", "claude-sonnet-4-5"),
			RequestsPerMinute: getEnvInt("HOSTED_RPM", 10),
			MaxRetries:        getEnvInt("HOSTED_MAX_RETRIES", 3),
			InitialBackoff:    getEnvDuration("HOSTED_INITIAL_BACKOFF", time.Second),
			BackoffMultiplier: getEnvFloat("HOSTED_BACKOFF_MULTIPLIER", 2),
		},
		Local: BackendConfig{
			APIKey:            getEnv("LOCAL_API_KEY", ""),
			BaseURL:           getEnv("LOCAL_BASE_URL", "http://localhost:11434/v1"),
			Model:             getEnv("LOCAL_MODEL", "llama3.1"),
			RequestsPerMinute: getEnvInt("LOCAL_RPM", 60),
			MaxRetries:        getEnvInt("LOCAL_MAX_RETRIES", 3),
			InitialBackoff:    getEnvDuration("LOCAL_INITIAL_BACKOFF", 500*time.Millisecond),
			BackoffMultiplier: getEnvFloat("LOCAL_BACKOFF_MULTIPLIER", 2),
		},
		BackendTimeout:         getEnvDuration("BACKEND_TIMEOUT", 30*time.Second),
		UnhealthyErrorRate:     getEnvFloat("UNHEALTHY_ERROR_RATE", 0.2),
		HealthMinSamples:       getEnvInt("HEALTH_MIN_SAMPLES", 5),
		SessionIdleTimeout:     getEnvDuration("SESSION_IDLE_TIMEOUT", 24*time.Hour),
		SessionCleanupSchedule: getEnv("SESSION_CLEANUP_SCHEDULE", "*/15 * * * *"),
		RequestTimeout:         getEnvDuration("REQUEST_TIMEOUT", 60*time.Second),
		ReviewerRateLimit:      getEnvInt("REVIEWER_RATE_LIMIT", 30),
		ReviewerRateBurst:      getEnvInt("REVIEWER_RATE_BURST", 10),
		Transcript: TranscriptConfig{
			Enabled:   getEnvBool("TRANSCRIPT_LOG_ENABLED", true),
			Dir:       getEnv("TRANSCRIPT_LOG_DIR", "./data/transcripts"),
			QueueSize: getEnvInt("TRANSCRIPT_LOG_QUEUE_SIZE", 1000),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	for _, b := range []struct {
		prefix string
		cfg    BackendConfig
	}{{"HOSTED", c.Hosted}, {"LOCAL", c.Local}} {
		if b.cfg.RequestsPerMinute <= 0 {
			return fmt.Errorf("%s_RPM must be > 0", b.prefix)
		}
		if b.cfg.MaxRetries < 0 {
			return fmt.Errorf("%s_MAX_RETRIES must be >= 0", b.prefix)
		}
		if b.cfg.InitialBackoff <= 0 {
			return fmt.Errorf("%s_INITIAL_BACKOFF must be > 0", b.prefix)
		}
		if b.cfg.BackoffMultiplier < 1 {
			return fmt.Errorf("%s_BACKOFF_MULTIPLIER must be >= 1", b.prefix)
		}
	}
	if c.BackendTimeout <= 0 {
		return fmt.Errorf("BACKEND_TIMEOUT must be > 0")
	}
	if c.UnhealthyErrorRate <= 0 || c.UnhealthyErrorRate > 1 {
		return fmt.Errorf("UNHEALTHY_ERROR_RATE must be in (0, 1]")
	}
	if c.HealthMinSamples <= 0 {
		return fmt.Errorf("HEALTH_MIN_SAMPLES must be > 0")
	}
	if c.SessionIdleTimeout <= 0 {
		return fmt.Errorf("SESSION_IDLE_TIMEOUT must be > 0")
	}
	if strings.TrimSpace(c.SessionCleanupSchedule) == "" {
		return fmt.Errorf("SESSION_CLEANUP_SCHEDULE cannot be empty")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be > 0")
	}
	if c.ReviewerRateLimit < 0 || c.ReviewerRateBurst < 0 {
		return fmt.Errorf("REVIEWER_RATE_LIMIT and REVIEWER_RATE_BURST must be >= 0")
	}
	if c.Transcript.Enabled {
		if c.Transcript.Dir == "" {
			return fmt.Errorf("TRANSCRIPT_LOG_DIR cannot be empty")
		}
		if c.Transcript.QueueSize <= 0 {
			return fmt.Errorf("TRANSCRIPT_LOG_QUEUE_SIZE must be > 0")
		}
	}
	return nil
}

// HealthPolicy returns the backend health policy.
func (c *Config) HealthPolicy() backend.HealthPolicy {
	return backend.HealthPolicy{Threshold: c.UnhealthyErrorRate, MinSamples: c.HealthMinSamples}
}

// AllowedOrigins returns the CORS origins. Development allows any origin.
func (c *Config) AllowedOrigins() []string {
	if c.IsDevelopment() {
		return []string{"*"}
	}
	return []string{c.FrontendURL}
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
