package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"insight_server/pkg/apperr"
)

const (
	ProviderOutlook = "outlook"
	ProviderGmail   = "gmail"
)

type Config struct {
	Port        string
	Environment string
	LogLevel    string

	// Cache
	RedisURL         string
	AICacheTTLMin    int
	CacheJanitorSec  int
	CacheRedisPrefix string

	// OpenAI
	OpenAIAPIKey   string
	OpenAIBaseURL  string
	LLMModel       string
	LLMMaxTokens   int
	LLMTemperature float64
	LLMTimeoutSec  int

	// Pipeline
	AIConcurrency       int
	HistoryLimit        int
	MailProvider        string
	ProviderMaxPageSize int
	SearchStrategy      string

	// OAuth - Google
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string
	GmailEndpoint      string

	// OAuth - Microsoft
	MicrosoftClientID     string
	MicrosoftClientSecret string
	MicrosoftRedirectURL  string
	MicrosoftTenantID     string
	GraphBaseURL          string

	// CORS
	AllowedOrigins []string

	// Per-IP requests per minute on /api/v1; 0 disables limiting
	RateLimitPerMin int
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		// Cache
		RedisURL:         getEnv("REDIS_URL", ""),
		AICacheTTLMin:    getEnvInt("AI_CACHE_TTL_MIN", 60),
		CacheJanitorSec:  getEnvInt("CACHE_JANITOR_SEC", 300),
		CacheRedisPrefix: getEnv("CACHE_REDIS_PREFIX", "insight:"),

		// OpenAI
		OpenAIAPIKey:   getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:  getEnv("OPENAI_BASE_URL", ""),
		LLMModel:       getEnv("LLM_MODEL", "gpt-4o-mini"),
		LLMMaxTokens:   getEnvInt("LLM_MAX_TOKENS", 800),
		LLMTemperature: getEnvFloat("LLM_TEMPERATURE", 0.3),
		LLMTimeoutSec:  getEnvInt("LLM_TIMEOUT_SEC", 30),

		// Pipeline
		AIConcurrency:       getEnvInt("AI_CONCURRENCY", 5),
		HistoryLimit:        getEnvInt("HISTORY_LIMIT", 10),
		MailProvider:        strings.ToLower(getEnv("MAIL_PROVIDER", ProviderOutlook)),
		ProviderMaxPageSize: getEnvInt("PROVIDER_MAX_PAGE_SIZE", 50),
		SearchStrategy:      strings.ToLower(getEnv("SEARCH_STRATEGY", "filter")),

		// OAuth - Google
		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURL:  getEnv("GOOGLE_REDIRECT_URL", ""),
		GmailEndpoint:      getEnv("GMAIL_ENDPOINT", ""),

		// OAuth - Microsoft
		MicrosoftClientID:     getEnv("MICROSOFT_CLIENT_ID", ""),
		MicrosoftClientSecret: getEnv("MICROSOFT_CLIENT_SECRET", ""),
		MicrosoftRedirectURL:  getEnv("MICROSOFT_REDIRECT_URL", ""),
		MicrosoftTenantID:     getEnv("MICROSOFT_TENANT_ID", "common"),
		GraphBaseURL:          getEnv("GRAPH_BASE_URL", ""),

		// CORS
		AllowedOrigins: getEnvSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),

		RateLimitPerMin: getEnvInt("RATE_LIMIT_PER_MIN", 120),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every missing or out-of-range setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.OpenAIAPIKey == "" {
		errs = append(errs, errors.New("OPENAI_API_KEY is required"))
	}
	switch c.MailProvider {
	case ProviderOutlook, ProviderGmail:
	default:
		errs = append(errs, fmt.Errorf("MAIL_PROVIDER must be %q or %q, got %q", ProviderOutlook, ProviderGmail, c.MailProvider))
	}
	switch c.SearchStrategy {
	case "filter", "native":
	default:
		errs = append(errs, fmt.Errorf("SEARCH_STRATEGY must be \"filter\" or \"native\", got %q", c.SearchStrategy))
	}
	if c.RateLimitPerMin < 0 {
		errs = append(errs, errors.New("RATE_LIMIT_PER_MIN must not be negative"))
	}
	if c.AIConcurrency < 1 {
		errs = append(errs, errors.New("AI_CONCURRENCY must be at least 1"))
	}
	if c.ProviderMaxPageSize < 1 {
		errs = append(errs, errors.New("PROVIDER_MAX_PAGE_SIZE must be at least 1"))
	}
	if c.CacheJanitorSec < 1 {
		errs = append(errs, errors.New("CACHE_JANITOR_SEC must be at least 1"))
	}
	if c.LLMTimeoutSec < 1 {
		errs = append(errs, errors.New("LLM_TIMEOUT_SEC must be at least 1"))
	}

	if len(errs) == 0 {
		return nil
	}
	return apperr.ConfigError("invalid configuration").WithError(errors.Join(errs...))
}

// AICacheTTL is the lifetime of cached analyses.
func (c *Config) AICacheTTL() time.Duration {
	return time.Duration(c.AICacheTTLMin) * time.Minute
}

// LLMTimeout bounds a single AI call.
func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLMTimeoutSec) * time.Second
}

// CacheJanitorInterval is how often expired cache entries are swept.
func (c *Config) CacheJanitorInterval() time.Duration {
	return time.Duration(c.CacheJanitorSec) * time.Second
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
