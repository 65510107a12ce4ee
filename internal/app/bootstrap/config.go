package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the resolved runtime configuration for the passport gateway.
// It merges file defaults and environment overrides to support both local
// and deployed runs.
type Config struct {
	ServiceID string

	HTTPPort int
	GRPCPort int

	DatabaseURL string
	RedisURL    string

	KafkaBrokers []string
	KafkaTopics  map[string]string

	BackendCompletionURL string
	BackendAPIKey        string
	BackendModel         string

	Challenge string

	FreeTierLimit int64
	ProTierLimit  int64

	IPRateLimit      int64
	IPRateWindow     time.Duration
	GlobalRateLimit  int64
	GlobalRateWindow time.Duration

	StreamIdleTimeout time.Duration
	StreamMaxDuration time.Duration
	MaxSnippetBytes   int

	WSAllowedOrigins []string

	MaxDBConns         int
	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxClaimTTL     time.Duration
	OutboxMaxRetries   int
}

// configFile mirrors the YAML schema used by configs/default.yaml.
// It is intentionally separate from Config so runtime-only fields stay internal.
type configFile struct {
	Service struct {
		ID       string `yaml:"id"`
		HTTPPort int    `yaml:"http_port"`
		GRPCPort int    `yaml:"grpc_port"`
	} `yaml:"service"`
	Dependencies struct {
		PostgresURL  string   `yaml:"postgres_url"`
		RedisURL     string   `yaml:"redis_url"`
		KafkaBrokers []string `yaml:"kafka_brokers"`
	} `yaml:"dependencies"`
	Backend struct {
		CompletionURL string `yaml:"completion_url"`
		Model         string `yaml:"model"`
	} `yaml:"backend"`
	Tiers struct {
		FreeLimit int64 `yaml:"free_limit"`
		ProLimit  int64 `yaml:"pro_limit"`
	} `yaml:"tiers"`
	RateLimit struct {
		IPPerHour       int64 `yaml:"ip_per_hour"`
		GlobalPerMinute int64 `yaml:"global_per_minute"`
	} `yaml:"rate_limit"`
	Stream struct {
		IdleTimeoutSeconds int `yaml:"idle_timeout_seconds"`
		MaxDurationSeconds int `yaml:"max_duration_seconds"`
		MaxSnippetBytes    int `yaml:"max_snippet_bytes"`
	} `yaml:"stream"`
}

// LoadConfig resolves configuration in priority order: defaults -> file -> env.
// This order keeps local bootstrap simple while allowing environment-specific overrides.
func LoadConfig(path string) (Config, error) {
	cfg := Config{
		ServiceID: "codex-passport-gateway",
		HTTPPort:  8080,
		GRPCPort:  9090,
		KafkaTopics: map[string]string{
			"passport.created": "cdx.passport.events",
			"usage.recorded":   "cdx.passport.usage",
		},
		BackendCompletionURL: "https://api.openai.com/v1/chat/completions",
		BackendModel:         "gpt-4o-mini",
		FreeTierLimit:        100,
		ProTierLimit:         5000,
		IPRateLimit:          100,
		IPRateWindow:         time.Hour,
		GlobalRateLimit:      600,
		GlobalRateWindow:     time.Minute,
		StreamIdleTimeout:    30 * time.Second,
		StreamMaxDuration:    5 * time.Minute,
		MaxSnippetBytes:      64 * 1024,
		MaxDBConns:           20,
		OutboxPollInterval:   2 * time.Second,
		OutboxBatchSize:      100,
		OutboxClaimTTL:       30 * time.Second,
		OutboxMaxRetries:     5,
	}

	raw, err := os.ReadFile(path)
	if err == nil {
		var f configFile
		if unmarshalErr := yaml.Unmarshal(raw, &f); unmarshalErr != nil {
			return Config{}, fmt.Errorf("parse config file: %w", unmarshalErr)
		}
		if f.Service.ID != "" {
			cfg.ServiceID = f.Service.ID
		}
		if f.Service.HTTPPort > 0 {
			cfg.HTTPPort = f.Service.HTTPPort
		}
		if f.Service.GRPCPort > 0 {
			cfg.GRPCPort = f.Service.GRPCPort
		}
		if f.Dependencies.PostgresURL != "" {
			cfg.DatabaseURL = f.Dependencies.PostgresURL
		}
		if f.Dependencies.RedisURL != "" {
			cfg.RedisURL = f.Dependencies.RedisURL
		}
		if len(f.Dependencies.KafkaBrokers) > 0 {
			cfg.KafkaBrokers = f.Dependencies.KafkaBrokers
		}
		if f.Backend.CompletionURL != "" {
			cfg.BackendCompletionURL = f.Backend.CompletionURL
		}
		if f.Backend.Model != "" {
			cfg.BackendModel = f.Backend.Model
		}
		if f.Tiers.FreeLimit > 0 {
			cfg.FreeTierLimit = f.Tiers.FreeLimit
		}
		if f.Tiers.ProLimit > 0 {
			cfg.ProTierLimit = f.Tiers.ProLimit
		}
		if f.RateLimit.IPPerHour > 0 {
			cfg.IPRateLimit = f.RateLimit.IPPerHour
		}
		if f.RateLimit.GlobalPerMinute > 0 {
			cfg.GlobalRateLimit = f.RateLimit.GlobalPerMinute
		}
		if f.Stream.IdleTimeoutSeconds > 0 {
			cfg.StreamIdleTimeout = time.Duration(f.Stream.IdleTimeoutSeconds) * time.Second
		}
		if f.Stream.MaxDurationSeconds > 0 {
			cfg.StreamMaxDuration = time.Duration(f.Stream.MaxDurationSeconds) * time.Second
		}
		if f.Stream.MaxSnippetBytes > 0 {
			cfg.MaxSnippetBytes = f.Stream.MaxSnippetBytes
		}
	}

	cfg.DatabaseURL = envOrDefault("DB_URL", envOrDefault("POSTGRES_URL", cfg.DatabaseURL))
	cfg.RedisURL = envOrDefault("REDIS_URL", cfg.RedisURL)
	cfg.KafkaBrokers = envCSV("KAFKA_BROKERS", cfg.KafkaBrokers)
	cfg.BackendCompletionURL = envOrDefault("BACKEND_COMPLETION_URL", cfg.BackendCompletionURL)
	cfg.BackendAPIKey = envOrDefault("BACKEND_API_KEY", cfg.BackendAPIKey)
	cfg.BackendModel = envOrDefault("BACKEND_MODEL", cfg.BackendModel)
	cfg.Challenge = envOrDefault("PASSPORT_CHALLENGE", cfg.Challenge)
	cfg.WSAllowedOrigins = envCSV("WS_ALLOWED_ORIGINS", cfg.WSAllowedOrigins)

	cfg.HTTPPort = envInt("HTTP_PORT", cfg.HTTPPort)
	cfg.GRPCPort = envInt("GRPC_PORT", cfg.GRPCPort)
	cfg.MaxDBConns = envInt("DB_MAX_CONNS", cfg.MaxDBConns)
	cfg.MaxSnippetBytes = envInt("MAX_SNIPPET_BYTES", cfg.MaxSnippetBytes)

	cfg.FreeTierLimit = envInt64("FREE_TIER_LIMIT", cfg.FreeTierLimit)
	cfg.ProTierLimit = envInt64("PRO_TIER_LIMIT", cfg.ProTierLimit)
	cfg.IPRateLimit = envInt64("IP_RATE_LIMIT_PER_HOUR", cfg.IPRateLimit)
	cfg.GlobalRateLimit = envInt64("GLOBAL_RATE_LIMIT_PER_MINUTE", cfg.GlobalRateLimit)

	cfg.StreamIdleTimeout = time.Duration(envInt("STREAM_IDLE_TIMEOUT_SECONDS", int(cfg.StreamIdleTimeout.Seconds()))) * time.Second
	cfg.StreamMaxDuration = time.Duration(envInt("STREAM_MAX_DURATION_SECONDS", int(cfg.StreamMaxDuration.Seconds()))) * time.Second
	cfg.OutboxPollInterval = time.Duration(envInt("OUTBOX_POLL_SECONDS", int(cfg.OutboxPollInterval.Seconds()))) * time.Second
	cfg.OutboxBatchSize = envInt("OUTBOX_BATCH_SIZE", cfg.OutboxBatchSize)
	cfg.OutboxClaimTTL = time.Duration(envInt("OUTBOX_CLAIM_TTL_SECONDS", int(cfg.OutboxClaimTTL.Seconds()))) * time.Second
	cfg.OutboxMaxRetries = envInt("OUTBOX_MAX_RETRIES", cfg.OutboxMaxRetries)

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("missing DB_URL/POSTGRES_URL")
	}
	if cfg.RedisURL == "" {
		return Config{}, fmt.Errorf("missing REDIS_URL")
	}
	if cfg.BackendCompletionURL == "" {
		return Config{}, fmt.Errorf("missing BACKEND_COMPLETION_URL")
	}
	if cfg.FreeTierLimit <= 0 || cfg.ProTierLimit <= 0 {
		return Config{}, fmt.Errorf("tier limits must be positive")
	}

	return cfg, nil
}

// envOrDefault returns an env var when present, otherwise the provided fallback.
func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

// envInt parses integer env vars with safe fallback on empty/invalid values.
func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envInt64(name string, fallback int64) int64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fallback
	}
	return v
}

// envCSV parses comma-separated env vars and removes empty segments.
func envCSV(name string, fallback []string) []string {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	parts := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		parts = append(parts, trimmed)
	}
	if len(parts) == 0 {
		return fallback
	}
	return parts
}
