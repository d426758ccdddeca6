// Package config provides configuration management for the application.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultBodySizeLimit is the maximum accepted upload/request body size (10MB),
// matching the original deployment's multer limit.
const DefaultBodySizeLimit int64 = 10 * 1024 * 1024

// maxIndexedKeySlots bounds the GEMINI_API_KEY_<n> scan. Slots may have gaps;
// every non-empty slot in 1..maxIndexedKeySlots is collected in index order.
const maxIndexedKeySlots = 16

// Config holds the application configuration.
type Config struct {
	Server     ServerConfig
	Gemini     GeminiConfig
	OpenRouter OpenRouterConfig
	Jobs       JobsConfig
	Knowledge  KnowledgeConfig
	Cache      CacheConfig
	Usage      UsageConfig
	RateLimit  RateLimitConfig

	// MockAI substitutes deterministic canned responses for all provider
	// calls. Intended for integration testing without live network access.
	MockAI bool
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port           string
	LogLevel       string
	MasterKey      string
	AllowedOrigins []string
	BodySizeLimit  int64
	MetricsEnabled bool
}

// GeminiConfig holds Gemini backend configuration.
type GeminiConfig struct {
	// APIKey is the primary key slot.
	APIKey string
	// IndexedKeys are the GEMINI_API_KEY_<n> alternate slots, in index order.
	IndexedKeys []string
	// KeyList is an optional comma-delimited key list (GEMINI_API_KEYS).
	KeyList string
	// ModelOverride pins the model list (single model or comma-delimited,
	// tried in the given order, no defaults appended).
	ModelOverride string
	// BaseURL overrides the Generative Language API endpoint (tests).
	BaseURL string
	// WarmupEnabled runs the startup validation pass over the key×model matrix.
	WarmupEnabled bool
	// AttemptTimeout bounds each individual provider call.
	AttemptTimeout time.Duration
}

// OpenRouterConfig holds the alternate-backend configuration. OpenRouter is
// tried once, ahead of the Gemini matrix, when a key is present.
type OpenRouterConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// JobsConfig holds the JSearch passthrough configuration.
type JobsConfig struct {
	APIKey  string
	BaseURL string
}

// KnowledgeConfig points at the knowledge-base document set.
type KnowledgeConfig struct {
	File string
}

// CacheConfig selects the warm-up cache backend. When RedisURL is set the
// cache is shared across instances; otherwise a local file is used.
type CacheConfig struct {
	File     string
	RedisURL string
}

// UsageConfig controls the per-attempt usage log.
type UsageConfig struct {
	Enabled       bool
	SQLitePath    string
	RetentionDays int
	BufferSize    int
	FlushInterval time.Duration
}

// RateLimitConfig controls the per-caller request limiter.
type RateLimitConfig struct {
	Enabled   bool
	PerMinute int
}

// Load reads configuration from .env file and environment.
func Load() (*Config, error) {
	// Load .env using Viper (optional, won't fail if not found)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	_ = viper.ReadInConfig()

	viper.SetDefault("PORT", "3002")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("OPENROUTER_MODEL", "openrouter/auto")
	viper.SetDefault("JSEARCH_BASE_URL", "https://jsearch.p.rapidapi.com")
	viper.SetDefault("CACHE_FILE", ".cache/notemind-warmup.json")
	viper.SetDefault("USAGE_DB", ".cache/notemind-usage.db")
	viper.SetDefault("USAGE_RETENTION_DAYS", 30)
	viper.SetDefault("USAGE_BUFFER_SIZE", 1000)
	viper.SetDefault("USAGE_FLUSH_INTERVAL", "5s")
	viper.SetDefault("RATE_LIMIT_PER_MINUTE", 0)
	viper.SetDefault("ATTEMPT_TIMEOUT", "60s")
	viper.SetDefault("WARMUP_ENABLED", true)
	viper.SetDefault("USAGE_ENABLED", true)

	viper.AutomaticEnv()

	bodyLimit := DefaultBodySizeLimit
	if mb := viper.GetInt64("UPLOAD_LIMIT_MB"); mb > 0 {
		bodyLimit = mb * 1024 * 1024
	}

	flushInterval, err := time.ParseDuration(viper.GetString("USAGE_FLUSH_INTERVAL"))
	if err != nil {
		return nil, fmt.Errorf("invalid USAGE_FLUSH_INTERVAL: %w", err)
	}
	attemptTimeout, err := time.ParseDuration(viper.GetString("ATTEMPT_TIMEOUT"))
	if err != nil {
		return nil, fmt.Errorf("invalid ATTEMPT_TIMEOUT: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:           viper.GetString("PORT"),
			LogLevel:       viper.GetString("LOG_LEVEL"),
			MasterKey:      viper.GetString("MASTER_KEY"),
			AllowedOrigins: allowedOrigins(),
			BodySizeLimit:  bodyLimit,
			MetricsEnabled: viper.GetBool("METRICS_ENABLED"),
		},
		Gemini: GeminiConfig{
			APIKey:         viper.GetString("GEMINI_API_KEY"),
			IndexedKeys:    indexedGeminiKeys(),
			KeyList:        viper.GetString("GEMINI_API_KEYS"),
			ModelOverride:  viper.GetString("GEMINI_MODEL"),
			BaseURL:        viper.GetString("GEMINI_BASE_URL"),
			WarmupEnabled:  viper.GetBool("WARMUP_ENABLED"),
			AttemptTimeout: attemptTimeout,
		},
		OpenRouter: OpenRouterConfig{
			APIKey:  viper.GetString("OPENROUTER_API_KEY"),
			Model:   viper.GetString("OPENROUTER_MODEL"),
			BaseURL: viper.GetString("OPENROUTER_BASE_URL"),
		},
		Jobs: JobsConfig{
			APIKey:  viper.GetString("JSEARCH_API_KEY"),
			BaseURL: viper.GetString("JSEARCH_BASE_URL"),
		},
		Knowledge: KnowledgeConfig{
			File: viper.GetString("KNOWLEDGE_FILE"),
		},
		Cache: CacheConfig{
			File:     viper.GetString("CACHE_FILE"),
			RedisURL: viper.GetString("REDIS_URL"),
		},
		Usage: UsageConfig{
			Enabled:       viper.GetBool("USAGE_ENABLED"),
			SQLitePath:    viper.GetString("USAGE_DB"),
			RetentionDays: viper.GetInt("USAGE_RETENTION_DAYS"),
			BufferSize:    viper.GetInt("USAGE_BUFFER_SIZE"),
			FlushInterval: flushInterval,
		},
		RateLimit: RateLimitConfig{
			Enabled:   viper.GetInt("RATE_LIMIT_PER_MINUTE") > 0,
			PerMinute: viper.GetInt("RATE_LIMIT_PER_MINUTE"),
		},
		MockAI: viper.GetBool("MOCK_AI"),
	}

	return cfg, nil
}

// indexedGeminiKeys collects the GEMINI_API_KEY_1..GEMINI_API_KEY_16 slots.
func indexedGeminiKeys() []string {
	var keys []string
	for i := 1; i <= maxIndexedKeySlots; i++ {
		if k := viper.GetString(fmt.Sprintf("GEMINI_API_KEY_%d", i)); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// allowedOrigins reads ALLOWED_ORIGINS (comma-delimited) falling back to
// FRONTEND_URL, then to the development default.
func allowedOrigins() []string {
	if raw := viper.GetString("ALLOWED_ORIGINS"); raw != "" {
		parts := strings.Split(raw, ",")
		origins := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				origins = append(origins, p)
			}
		}
		return origins
	}
	if url := viper.GetString("FRONTEND_URL"); url != "" {
		return []string{url}
	}
	return []string{"http://localhost:3000"}
}
