package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if errs := cfg.Validate(); len(errs) > 0 {
		t.Errorf("default config should validate cleanly: %v", ValidationErrors(errs))
	}
}

func TestDurationAccessors(t *testing.T) {
	cfg := Default()

	if got := cfg.Lock.AcquireTimeout(); got != 5*time.Second {
		t.Errorf("AcquireTimeout = %v, want 5s", got)
	}
	if got := cfg.Lock.StaleTTL(); got != 30*time.Minute {
		t.Errorf("StaleTTL = %v, want 30m", got)
	}
	if got := cfg.State.MaxAge(); got != 24*time.Hour {
		t.Errorf("MaxAge = %v, want 24h", got)
	}
}

func TestLoadFromViper(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	SetDefaults()

	viper.Set("lock.acquire_timeout_seconds", 10)
	viper.Set("state.max_age_hours", 48)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Lock.AcquireTimeoutSeconds != 10 {
		t.Errorf("AcquireTimeoutSeconds = %d, want 10", cfg.Lock.AcquireTimeoutSeconds)
	}
	if cfg.State.MaxAgeHours != 48 {
		t.Errorf("MaxAgeHours = %d, want 48", cfg.State.MaxAgeHours)
	}
	// Untouched sections keep their defaults
	if cfg.Lock.StaleTTLMinutes != 30 {
		t.Errorf("StaleTTLMinutes = %d, want default 30", cfg.Lock.StaleTTLMinutes)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{
			name:   "negative lock timeout",
			mutate: func(c *Config) { c.Lock.AcquireTimeoutSeconds = -1 },
			field:  "lock.acquire_timeout_seconds",
		},
		{
			name:   "zero stale ttl",
			mutate: func(c *Config) { c.Lock.StaleTTLMinutes = 0 },
			field:  "lock.stale_ttl_minutes",
		},
		{
			name:   "zero max age",
			mutate: func(c *Config) { c.State.MaxAgeHours = 0 },
			field:  "state.max_age_hours",
		},
		{
			name:   "zero cleanup parallelism",
			mutate: func(c *Config) { c.Cleanup.MaxParallel = 0 },
			field:  "cleanup.max_parallel",
		},
		{
			name:   "bogus log level",
			mutate: func(c *Config) { c.Logging.Level = "loud" },
			field:  "logging.level",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)

			errs := cfg.Validate()
			if len(errs) == 0 {
				t.Fatal("expected a validation error")
			}
			found := false
			for _, e := range errs {
				if e.Field == tc.field {
					found = true
				}
			}
			if !found {
				t.Errorf("no error for field %s in %v", tc.field, ValidationErrors(errs))
			}
		})
	}
}

func TestValidationErrorsMessage(t *testing.T) {
	errs := ValidationErrors{
		{Field: "a", Value: 1, Message: "bad"},
		{Field: "b", Value: 2, Message: "worse"},
	}
	msg := errs.Error()
	if !strings.Contains(msg, "2 validation errors") {
		t.Errorf("message should count errors: %q", msg)
	}
	if !strings.Contains(msg, "a: bad (got: 1)") {
		t.Errorf("message should include each error: %q", msg)
	}
}
