// Package config loads process configuration from the environment,
// following the env-var-with-fallback convention used throughout this
// codebase.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/smilemakc/caseorch/internal/domain"
)

// Config is the full set of options recognized by the worker and API
// processes.
type Config struct {
	Port        string
	LogLevel    string
	DatabaseDSN string

	MaxFollowups        int
	FollowupDelayDays    int
	FeeAutoApproveMax   float64
	FeeModerateMax      float64
	MaxIterations       int
	AutopilotMode       domain.AutopilotMode
	ExecutionMode       domain.ExecutionMode

	OpenAIAPIKey string
	LLMModel     string
	APIKeys      []string

	JWTSigningKey string

	FromAddress      string
	MailEndpoint     string
	MailAPIKey       string
	SlackWebhookURL  string

	NotionAPIKey     string
	NotionDatabaseID string
	NotionAPIBase    string

	FollowupPollInterval time.Duration
}

// Load reads configuration from the environment, applying the
// defaults named in the configuration reference.
func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		DatabaseDSN: getEnv("DATABASE_DSN", "postgres://localhost:5432/caseorch?sslmode=disable"),

		MaxFollowups:      getEnvInt("MAX_FOLLOWUPS", 2),
		FollowupDelayDays: getEnvInt("FOLLOWUP_DELAY_DAYS", 7),
		FeeAutoApproveMax: getEnvFloat("FEE_AUTO_APPROVE_MAX", 100),
		FeeModerateMax:    getEnvFloat("FEE_MODERATE_MAX", 500),
		MaxIterations:     getEnvInt("LANGGRAPH_MAX_ITERATIONS", 5),
		AutopilotMode:     domain.AutopilotMode(getEnv("AUTOPILOT_MODE", string(domain.AutopilotSupervised))),
		ExecutionMode:     domain.ExecutionMode(getEnv("EXECUTION_MODE", string(domain.ExecutionLive))),

		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		LLMModel:      getEnv("OPENAI_MODEL", ""),
		APIKeys:       splitNonEmpty(getEnv("API_KEYS", ""), ","),
		JWTSigningKey: getEnv("JWT_SIGNING_KEY", ""),

		FromAddress:     getEnv("FROM_ADDRESS", ""),
		MailEndpoint:    getEnv("MAIL_PROVIDER_ENDPOINT", ""),
		MailAPIKey:      getEnv("MAIL_PROVIDER_API_KEY", ""),
		SlackWebhookURL: getEnv("SLACK_WEBHOOK_URL", ""),

		NotionAPIKey:     getEnv("NOTION_API_KEY", ""),
		NotionDatabaseID: getEnv("NOTION_DATABASE_ID", ""),
		NotionAPIBase:    getEnv("NOTION_API_BASE", "https://api.notion.com/v1"),

		FollowupPollInterval: getEnvDuration("FOLLOWUP_POLL_INTERVAL", time.Hour),
	}
}

// GetPortInt returns Port parsed as an integer, defaulting to 8080 if
// it does not parse.
func (c *Config) GetPortInt() int {
	if p, err := strconv.Atoi(c.Port); err == nil {
		return p
	}
	return 8080
}

// JobTimeout is the per-job timeout applied by queue workers.
func (c *Config) JobTimeout() time.Duration { return 2 * time.Minute }

// JobRetryBaseDelay is the base delay for queue worker exponential
// backoff (attempts=3, base 5s per the concurrency model).
func (c *Config) JobRetryBaseDelay() time.Duration { return 5 * time.Second }

// JobMaxAttempts is the number of attempts a queue worker makes before
// giving up on a job.
func (c *Config) JobMaxAttempts() int { return 3 }

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func splitNonEmpty(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, sep) {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
