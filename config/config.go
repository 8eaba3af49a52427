package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Browser   BrowserConfig
	Scrape    ScrapeConfig
	Pool      PoolConfig
	Proxy     ProxyConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Log       LogConfig
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string // default: "0.0.0.0"
	Port int    // default: 8080
	Mode string // "debug", "release", "test"; default: "release"
}

// BrowserConfig controls the Rod browser instances launched per pool.
type BrowserConfig struct {
	// Headless controls whether browsers run headless.
	Headless bool // default: true

	// MaxPages is the per-pool page pool capacity (max concurrent tabs).
	MaxPages int // default: 10

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool // default: false

	// BrowserBin overrides the Chromium binary path.
	BrowserBin string
}

// ScrapeConfig controls per-job behavior.
type ScrapeConfig struct {
	// DefaultTimeout is the delivery ceiling applied when the caller does
	// not specify one.
	DefaultTimeout time.Duration // default: 60s

	// MaxTimeout caps the caller-specified timeout.
	MaxTimeout time.Duration // default: 140s

	// MaxBodySize caps fetched body bytes.
	MaxBodySize int64 // default: 10 MiB

	// BlockedResourceTypes is the default resource-blocking policy applied
	// when block_resources is enabled.
	// default: ["Image", "Stylesheet", "Font", "Media"]
	BlockedResourceTypes []string
}

// PoolConfig controls the worker pools created per execution configuration.
type PoolConfig struct {
	// Workers is the number of concurrent workers per pool.
	Workers int // default: 8

	// QueueSize bounds each pool's job queue.
	QueueSize int // default: 256

	// MaxRetries bounds fetch attempts per job.
	MaxRetries int // default: 3

	// Pace throttles job starts within a pool. Zero disables pacing.
	Pace time.Duration // default: 10ms
}

// ProxyConfig holds outbound proxy endpoints keyed by group.
type ProxyConfig struct {
	// DefaultURL is the datacenter proxy endpoint, empty for direct.
	DefaultURL string

	// ResidentialURL is the premium/residential proxy endpoint.
	ResidentialURL string

	// GoogleURL is the SERP-capable proxy endpoint.
	GoogleURL string
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	Enabled bool     // default: true
	APIKeys []string
}

// RateLimitConfig controls per-key rate limiting. Idle limiter state is
// evicted after EvictAfter, checked every EvictInterval.
type RateLimitConfig struct {
	RequestsPerSecond float64       // default: 5
	Burst             int           // default: 10
	EvictAfter        time.Duration // default: 1h
	EvictInterval     time.Duration // default: 5m
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// Load reads configuration from environment variables with sane defaults.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host: envOr("APIARY_HOST", "0.0.0.0"),
			Port: envIntOr("APIARY_PORT", 8080),
			Mode: envOr("APIARY_MODE", "release"),
		},
		Browser: BrowserConfig{
			Headless:   envBoolOr("APIARY_HEADLESS", true),
			MaxPages:   envIntOr("APIARY_MAX_PAGES", 10),
			NoSandbox:  envBoolOr("APIARY_NO_SANDBOX", false),
			BrowserBin: os.Getenv("APIARY_BROWSER_BIN"),
		},
		Scrape: ScrapeConfig{
			DefaultTimeout: envDurationOr("APIARY_DEFAULT_TIMEOUT", 60*time.Second),
			MaxTimeout:     envDurationOr("APIARY_MAX_TIMEOUT", 140*time.Second),
			MaxBodySize:    int64(envIntOr("APIARY_MAX_BODY_BYTES", 10<<20)),
			BlockedResourceTypes: envSliceOr("APIARY_BLOCKED_RESOURCES", []string{
				"Image", "Stylesheet", "Font", "Media",
			}),
		},
		Pool: PoolConfig{
			Workers:    envIntOr("APIARY_POOL_WORKERS", 8),
			QueueSize:  envIntOr("APIARY_POOL_QUEUE", 256),
			MaxRetries: envIntOr("APIARY_POOL_RETRIES", 3),
			Pace:       envDurationOr("APIARY_POOL_PACE", 10*time.Millisecond),
		},
		Proxy: ProxyConfig{
			DefaultURL:     os.Getenv("APIARY_PROXY"),
			ResidentialURL: os.Getenv("APIARY_PROXY_RESIDENTIAL"),
			GoogleURL:      os.Getenv("APIARY_PROXY_GOOGLE"),
		},
		Auth: AuthConfig{
			Enabled: envBoolOr("APIARY_AUTH_ENABLED", true),
			APIKeys: envSliceOr("APIARY_API_KEYS", nil),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: envFloatOr("APIARY_RATE_RPS", 5.0),
			Burst:             envIntOr("APIARY_RATE_BURST", 10),
			EvictAfter:        envDurationOr("APIARY_RATE_EVICT_AFTER", time.Hour),
			EvictInterval:     envDurationOr("APIARY_RATE_EVICT_INTERVAL", 5*time.Minute),
		},
		Log: LogConfig{
			Level:  envOr("APIARY_LOG_LEVEL", "info"),
			Format: envOr("APIARY_LOG_FORMAT", "json"),
		},
	}
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
