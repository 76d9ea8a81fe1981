package config

import (
	"fmt"
	"strings"
	"time"

	pkgconfig "github.com/akshay-ctas/server/pkg/config"
)

// Storage backends.
const (
	StorageGCS    = "gcs"
	StorageMemory = "memory"
)

// Config holds all configuration for the catalog service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort int `env:"CATALOG_HTTP_PORT" envDefault:"8001"`

	// PostgreSQL
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"ecommerce"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"ecommerce_secret"`
	PostgresDB   string `env:"CATALOG_DB_NAME" envDefault:"catalog_db"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`

	// Database pool
	DBMaxConns            int32 `env:"DB_MAX_CONNS" envDefault:"25"`
	DBMinConns            int32 `env:"DB_MIN_CONNS" envDefault:"5"`
	DBMaxConnLifetimeMins int   `env:"DB_MAX_CONN_LIFETIME_MINUTES" envDefault:"60"`
	DBMaxConnIdleTimeMins int   `env:"DB_MAX_CONN_IDLE_TIME_MINUTES" envDefault:"30"`

	// Redis read cache
	RedisEnabled    bool   `env:"REDIS_ENABLED" envDefault:"false"`
	RedisHost       string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort       int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword   string `env:"REDIS_PASSWORD"`
	RedisDB         int    `env:"REDIS_DB" envDefault:"0"`
	CacheTTLSeconds int    `env:"CACHE_TTL_SECONDS" envDefault:"300"`

	// Kafka; an empty broker list disables event publishing.
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	// Blob storage
	StorageBackend        string `env:"STORAGE_BACKEND" envDefault:"memory"`
	GCSBucket             string `env:"GCS_BUCKET"`
	GCSCDNDomain          string `env:"GCS_CDN_DOMAIN"`
	GCSEmulatorHost       string `env:"GCS_EMULATOR_HOST"`
	StoragePublicBaseURL  string `env:"STORAGE_PUBLIC_BASE_URL"`
	StorageMaxConcurrency int    `env:"STORAGE_MAX_CONCURRENCY" envDefault:"4"`

	// Admin authentication
	JWTSecret string `env:"JWT_SECRET"`

	// Rate limiting of mutating routes; a zero RPS disables it.
	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"20"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"40"`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	// Cache-Control max-age for public reads; 0 disables the header.
	HTTPCacheMaxAgeSeconds int `env:"HTTP_CACHE_MAX_AGE_SECONDS" envDefault:"30"`

	// Pprof debug endpoints (IP allowlist in CIDR notation)
	PprofAllowedCIDRs []string `env:"PPROF_ALLOWED_CIDRS" envDefault:"10.0.0.0/8,172.16.0.0/12,192.168.0.0/16,127.0.0.0/8,::1/128" envSeparator:","`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`

	// Slow query logging
	SlowQueryThresholdMs int `env:"LOG_SLOW_QUERY_MS" envDefault:"500"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load catalog config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.PostgresHost == "" {
		return fmt.Errorf("POSTGRES_HOST is required")
	}
	if c.PostgresUser == "" {
		return fmt.Errorf("POSTGRES_USER is required")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.RedisEnabled && c.CacheTTLSeconds <= 0 {
		return fmt.Errorf("CACHE_TTL_SECONDS must be positive, got %d", c.CacheTTLSeconds)
	}

	c.StorageBackend = strings.ToLower(strings.TrimSpace(c.StorageBackend))
	switch c.StorageBackend {
	case StorageGCS:
		if c.GCSBucket == "" {
			return fmt.Errorf("GCS_BUCKET is required when STORAGE_BACKEND=gcs")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend)
	}
	if c.StorageMaxConcurrency < 1 {
		return fmt.Errorf("STORAGE_MAX_CONCURRENCY must be at least 1, got %d", c.StorageMaxConcurrency)
	}

	if c.JWTSecret == "" {
		if c.Environment == "production" {
			return fmt.Errorf("JWT_SECRET is required in production")
		}
	} else if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters")
	}

	if c.RateLimitRPS < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must not be negative, got %f", c.RateLimitRPS)
	}
	if c.RateLimitRPS > 0 && c.RateLimitBurst < 1 {
		return fmt.Errorf("RATE_LIMIT_BURST must be at least 1, got %d", c.RateLimitBurst)
	}
	if c.HTTPCacheMaxAgeSeconds < 0 {
		return fmt.Errorf("HTTP_CACHE_MAX_AGE_SECONDS must not be negative, got %d", c.HTTPCacheMaxAgeSeconds)
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1.0 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0, got %f", c.OTELSampleRate)
	}
	return nil
}

// CacheTTL returns the product cache entry lifetime.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// SlowQueryThreshold returns the duration above which queries are logged.
func (c *Config) SlowQueryThreshold() time.Duration {
	return time.Duration(c.SlowQueryThresholdMs) * time.Millisecond
}

// PublicBaseURL returns the base URL blobs are served from by the memory
// backend, defaulting to the service itself.
func (c *Config) PublicBaseURL() string {
	if c.StoragePublicBaseURL != "" {
		return strings.TrimRight(c.StoragePublicBaseURL, "/")
	}
	return fmt.Sprintf("http://localhost:%d/blobs", c.HTTPPort)
}
