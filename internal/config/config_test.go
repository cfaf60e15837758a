package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Port:                     8080,
		LogLevel:                 "info",
		CodeLength:               4,
		MaxGenerateAttempts:      100,
		CodeHistoryCap:           1000,
		LeadMinutes:              5,
		TrailMinutes:             30,
		RelockBufferMinutes:      5,
		PollIntervalSeconds:      60,
		LookaheadMinutes:         5,
		CleanupIntervalMinutes:   60,
		HealthIntervalSeconds:    60,
		HistoryRetentionHours:    24,
		BookingBackend:           BookingBackendPostgres,
		DatabaseURL:              "postgres://localhost/guestgate",
		LockBridgeURL:            "https://bridge.local",
		NotifyWebhookURL:         "https://notify.local/hook",
		KVBackend:                KVBackendMemory,
		PresentRateLimit:         30,
		PresentRateWindowSeconds: 60,
	}
}

func TestConfigMethods(t *testing.T) {
	t.Run("Addr returns formatted port", func(t *testing.T) {
		cfg := &Config{Port: 3000}
		assert.Equal(t, ":3000", cfg.Addr())
	})

	t.Run("window helpers convert to durations", func(t *testing.T) {
		cfg := validConfig()
		assert.Equal(t, 5*time.Minute, cfg.Lead())
		assert.Equal(t, 30*time.Minute, cfg.Trail())
		assert.Equal(t, 5*time.Minute, cfg.RelockBuffer())
	})

	t.Run("orchestration helpers convert to durations", func(t *testing.T) {
		cfg := validConfig()
		assert.Equal(t, time.Minute, cfg.PollInterval())
		assert.Equal(t, 5*time.Minute, cfg.Lookahead())
		assert.Equal(t, time.Hour, cfg.CleanupInterval())
		assert.Equal(t, time.Minute, cfg.HealthInterval())
		assert.Equal(t, 24*time.Hour, cfg.Retention())
		assert.Equal(t, time.Minute, cfg.PresentRateWindow())
	})
}

func TestValidate(t *testing.T) {
	t.Run("accepts a complete postgres configuration", func(t *testing.T) {
		assert.NoError(t, validConfig().Validate(false))
	})

	t.Run("accepts a complete http configuration", func(t *testing.T) {
		cfg := validConfig()
		cfg.BookingBackend = BookingBackendHTTP
		cfg.DatabaseURL = ""
		cfg.BookingAPIURL = "https://bookings.local/api"
		assert.NoError(t, cfg.Validate(false))
	})

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"code length too short", func(c *Config) { c.CodeLength = 2 }, "CODE_LENGTH"},
		{"code length too long", func(c *Config) { c.CodeLength = 13 }, "CODE_LENGTH"},
		{"zero attempts", func(c *Config) { c.MaxGenerateAttempts = 0 }, "MAX_GENERATE_ATTEMPTS"},
		{"tiny history cap", func(c *Config) { c.CodeHistoryCap = 1 }, "CODE_HISTORY_CAP"},
		{"negative lead", func(c *Config) { c.LeadMinutes = -1 }, "must not be negative"},
		{"zero poll interval", func(c *Config) { c.PollIntervalSeconds = 0 }, "POLL_INTERVAL_SECONDS"},
		{"zero lookahead", func(c *Config) { c.LookaheadMinutes = 0 }, "LOOKAHEAD_MINUTES"},
		{"zero retention", func(c *Config) { c.HistoryRetentionHours = 0 }, "HISTORY_RETENTION_HOURS"},
		{"postgres without url", func(c *Config) { c.DatabaseURL = "" }, "DATABASE_URL"},
		{"http without url", func(c *Config) {
			c.BookingBackend = BookingBackendHTTP
			c.BookingAPIURL = ""
		}, "BOOKING_API_URL"},
		{"unknown booking backend", func(c *Config) { c.BookingBackend = "ldap" }, "BOOKING_BACKEND"},
		{"redis kv without url", func(c *Config) { c.KVBackend = KVBackendRedis }, "REDIS_URL"},
		{"badger kv without dir", func(c *Config) { c.KVBackend = KVBackendBadger }, "BADGER_DIR"},
		{"unknown kv backend", func(c *Config) { c.KVBackend = "etcd" }, "KV_BACKEND"},
		{"non-digit blacklist entry", func(c *Config) { c.CodeBlacklist = []string{"12a4"} }, "CODE_BLACKLIST"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			err := cfg.Validate(false)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}

	t.Run("blacklist entry of different length is allowed with warning", func(t *testing.T) {
		cfg := validConfig()
		cfg.CodeBlacklist = []string{"123456"}
		assert.NoError(t, cfg.Validate(false))
	})
}

func TestLoad(t *testing.T) {
	keys := []string{
		"PORT", "LOG_LEVEL", "CODE_LENGTH", "CODE_BLACKLIST",
		"MAX_GENERATE_ATTEMPTS", "LEAD_MINUTES", "TRAIL_MINUTES",
		"RELOCK_BUFFER_MINUTES", "POLL_INTERVAL_SECONDS", "LOOKAHEAD_MINUTES",
		"BOOKING_BACKEND", "DATABASE_URL", "LOCK_BRIDGE_URL",
		"NOTIFY_WEBHOOK_URL", "KV_BACKEND", "EVENT_LOG_PATH",
	}
	originalEnv := map[string]string{}
	for _, k := range keys {
		originalEnv[k] = os.Getenv(k)
	}
	defer func() {
		for k, v := range originalEnv {
			if v == "" {
				os.Unsetenv(k)
			} else {
				os.Setenv(k, v)
			}
		}
	}()
	for _, k := range keys {
		os.Unsetenv(k)
	}

	t.Run("loads config with defaults", func(t *testing.T) {
		os.Setenv("LOCK_BRIDGE_URL", "https://bridge.local")
		os.Setenv("NOTIFY_WEBHOOK_URL", "https://notify.local/hook")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, 8080, cfg.Port)
		assert.Equal(t, "info", cfg.LogLevel)
		assert.Equal(t, 4, cfg.CodeLength)
		assert.Equal(t, 100, cfg.MaxGenerateAttempts)
		assert.Equal(t, 1000, cfg.CodeHistoryCap)
		assert.Equal(t, 5, cfg.LeadMinutes)
		assert.Equal(t, 30, cfg.TrailMinutes)
		assert.Equal(t, 5, cfg.RelockBufferMinutes)
		assert.Equal(t, 60, cfg.PollIntervalSeconds)
		assert.Equal(t, 5, cfg.LookaheadMinutes)
		assert.Equal(t, 24, cfg.HistoryRetentionHours)
		assert.Equal(t, BookingBackendPostgres, cfg.BookingBackend)
		assert.Equal(t, KVBackendMemory, cfg.KVBackend)
		assert.Empty(t, cfg.EventLogPath)
	})

	t.Run("loads overridden values", func(t *testing.T) {
		os.Setenv("LOCK_BRIDGE_URL", "https://bridge.local")
		os.Setenv("NOTIFY_WEBHOOK_URL", "https://notify.local/hook")
		os.Setenv("PORT", "9090")
		os.Setenv("CODE_LENGTH", "6")
		os.Setenv("CODE_BLACKLIST", "0000,1234,111111")
		os.Setenv("KV_BACKEND", "redis")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, 9090, cfg.Port)
		assert.Equal(t, 6, cfg.CodeLength)
		assert.Equal(t, []string{"0000", "1234", "111111"}, cfg.CodeBlacklist)
		assert.Equal(t, KVBackendRedis, cfg.KVBackend)
	})

	t.Run("fails when required values are missing", func(t *testing.T) {
		os.Unsetenv("LOCK_BRIDGE_URL")
		os.Unsetenv("NOTIFY_WEBHOOK_URL")

		_, err := Load()
		assert.Error(t, err)
	})
}
