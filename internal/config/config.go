package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"

	"github.com/guestgate/access-server-go/internal/util"
)

const (
	BookingBackendPostgres = "postgres"
	BookingBackendHTTP     = "http"

	KVBackendMemory = "memory"
	KVBackendRedis  = "redis"
	KVBackendBadger = "badger"
)

type Config struct {
	Port     int    `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Credential shape
	CodeLength          int      `env:"CODE_LENGTH" envDefault:"4"`
	CodeBlacklist       []string `env:"CODE_BLACKLIST" envSeparator:","`
	CodePolicyFile      string   `env:"CODE_POLICY_FILE"`
	MaxGenerateAttempts int      `env:"MAX_GENERATE_ATTEMPTS" envDefault:"100"`
	CodeHistoryCap      int      `env:"CODE_HISTORY_CAP" envDefault:"1000"`

	// Validity window around the reservation slot
	LeadMinutes         int `env:"LEAD_MINUTES" envDefault:"5"`
	TrailMinutes        int `env:"TRAIL_MINUTES" envDefault:"30"`
	RelockBufferMinutes int `env:"RELOCK_BUFFER_MINUTES" envDefault:"5"`

	// Orchestration
	PollIntervalSeconds    int `env:"POLL_INTERVAL_SECONDS" envDefault:"60"`
	LookaheadMinutes       int `env:"LOOKAHEAD_MINUTES" envDefault:"5"`
	CleanupIntervalMinutes int `env:"CLEANUP_INTERVAL_MINUTES" envDefault:"60"`
	HealthIntervalSeconds  int `env:"HEALTH_INTERVAL_SECONDS" envDefault:"60"`
	HistoryRetentionHours  int `env:"HISTORY_RETENTION_HOURS" envDefault:"24"`

	// Booking source
	BookingBackend  string `env:"BOOKING_BACKEND" envDefault:"postgres"`
	DatabaseURL     string `env:"DATABASE_URL"`
	BookingAPIURL   string `env:"BOOKING_API_URL"`
	BookingAPIToken string `env:"BOOKING_API_TOKEN"`
	PushSecret      string `env:"PUSH_SIGNATURE_SECRET"`

	// Lock bridge
	LockBridgeURL   string `env:"LOCK_BRIDGE_URL,required"`
	LockBridgeToken string `env:"LOCK_BRIDGE_TOKEN"`

	// Notifications
	NotifyWebhookURL string `env:"NOTIFY_WEBHOOK_URL,required"`
	AdminContact     string `env:"ADMIN_CONTACT"`

	// Ephemeral KV store for dedup and door-state markers
	KVBackend string `env:"KV_BACKEND" envDefault:"memory"`
	RedisURL  string `env:"REDIS_URL"`
	BadgerDir string `env:"BADGER_DIR"`

	// Optional sqlite access event log; empty disables it
	EventLogPath string `env:"EVENT_LOG_PATH"`

	// Presentment rate limit per client IP
	PresentRateLimit         int `env:"PRESENT_RATE_LIMIT" envDefault:"30"`
	PresentRateWindowSeconds int `env:"PRESENT_RATE_WINDOW_SECONDS" envDefault:"60"`
}

func (c *Config) Lead() time.Duration {
	return time.Duration(c.LeadMinutes) * time.Minute
}

func (c *Config) Trail() time.Duration {
	return time.Duration(c.TrailMinutes) * time.Minute
}

func (c *Config) RelockBuffer() time.Duration {
	return time.Duration(c.RelockBufferMinutes) * time.Minute
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

func (c *Config) Lookahead() time.Duration {
	return time.Duration(c.LookaheadMinutes) * time.Minute
}

func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalMinutes) * time.Minute
}

func (c *Config) HealthInterval() time.Duration {
	return time.Duration(c.HealthIntervalSeconds) * time.Second
}

func (c *Config) Retention() time.Duration {
	return time.Duration(c.HistoryRetentionHours) * time.Hour
}

func (c *Config) PresentRateWindow() time.Duration {
	return time.Duration(c.PresentRateWindowSeconds) * time.Second
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) Validate(isProduction bool) error {
	if c.CodeLength < 3 || c.CodeLength > 12 {
		return fmt.Errorf("CODE_LENGTH must be between 3 and 12, got %d", c.CodeLength)
	}
	if c.MaxGenerateAttempts < 1 {
		return fmt.Errorf("MAX_GENERATE_ATTEMPTS must be at least 1, got %d", c.MaxGenerateAttempts)
	}
	if c.CodeHistoryCap < 2 {
		return fmt.Errorf("CODE_HISTORY_CAP must be at least 2, got %d", c.CodeHistoryCap)
	}
	if c.LeadMinutes < 0 || c.TrailMinutes < 0 || c.RelockBufferMinutes < 0 {
		return fmt.Errorf("LEAD_MINUTES, TRAIL_MINUTES and RELOCK_BUFFER_MINUTES must not be negative")
	}
	if c.PollIntervalSeconds < 1 {
		return fmt.Errorf("POLL_INTERVAL_SECONDS must be at least 1, got %d", c.PollIntervalSeconds)
	}
	if c.LookaheadMinutes < 1 {
		return fmt.Errorf("LOOKAHEAD_MINUTES must be at least 1, got %d", c.LookaheadMinutes)
	}
	if c.HistoryRetentionHours < 1 {
		return fmt.Errorf("HISTORY_RETENTION_HOURS must be at least 1, got %d", c.HistoryRetentionHours)
	}

	switch c.BookingBackend {
	case BookingBackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when BOOKING_BACKEND=postgres")
		}
	case BookingBackendHTTP:
		if c.BookingAPIURL == "" {
			return fmt.Errorf("BOOKING_API_URL is required when BOOKING_BACKEND=http")
		}
	default:
		return fmt.Errorf("BOOKING_BACKEND must be %q or %q, got %q",
			BookingBackendPostgres, BookingBackendHTTP, c.BookingBackend)
	}

	switch c.KVBackend {
	case KVBackendMemory:
	case KVBackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when KV_BACKEND=redis")
		}
	case KVBackendBadger:
		if c.BadgerDir == "" {
			return fmt.Errorf("BADGER_DIR is required when KV_BACKEND=badger")
		}
	default:
		return fmt.Errorf("KV_BACKEND must be %q, %q or %q, got %q",
			KVBackendMemory, KVBackendRedis, KVBackendBadger, c.KVBackend)
	}

	for _, entry := range c.CodeBlacklist {
		if !util.IsDigits(entry) {
			return fmt.Errorf("CODE_BLACKLIST entry %q is not a digit string", entry)
		}
		if len(entry) != c.CodeLength {
			log.Warn().Str("entry", entry).Int("codeLength", c.CodeLength).
				Msg("CODE_BLACKLIST entry length differs from CODE_LENGTH; it can never match a generated code")
		}
	}

	if isProduction {
		if c.PushSecret == "" {
			log.Warn().Msg("PUSH_SIGNATURE_SECRET is empty in production: push webhook signature verification disabled")
		}
		if strings.HasPrefix(c.LockBridgeURL, "http://") {
			log.Warn().Msg("LOCK_BRIDGE_URL uses http:// (not TLS) in production")
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
	}

	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
