// Package config holds the crewsync configuration, loaded through viper
// from config file, environment, and flags.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete crewsync configuration
type Config struct {
	Lock      LockConfig      `mapstructure:"lock"`
	State     StateConfig     `mapstructure:"state"`
	Workspace WorkspaceConfig `mapstructure:"workspace"`
	Cleanup   CleanupConfig   `mapstructure:"cleanup"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Paths     PathsConfig     `mapstructure:"paths"`
}

// LockConfig controls file lock behavior
type LockConfig struct {
	// AcquireTimeoutSeconds bounds how long a write operation waits on a
	// contended lock before proceeding with a warning
	AcquireTimeoutSeconds int `mapstructure:"acquire_timeout_seconds"`
	// StaleTTLMinutes is how old a lock may grow before any process may
	// reclaim it from a presumed-dead owner
	StaleTTLMinutes int `mapstructure:"stale_ttl_minutes"`
}

// StateConfig controls agent record retention
type StateConfig struct {
	// MaxAgeHours is how old a pending or completed record may grow
	// before cleanup reclaims it
	MaxAgeHours int `mapstructure:"max_age_hours"`
}

// WorkspaceConfig controls workspace provisioning
type WorkspaceConfig struct {
	// RemoveOnCompletion removes an agent's worktree after completion
	// when it carries no uncommitted changes
	RemoveOnCompletion bool `mapstructure:"remove_on_completion"`
}

// CleanupConfig controls the cleanup command
type CleanupConfig struct {
	// MaxParallel bounds how many sessions are scanned concurrently
	MaxParallel int `mapstructure:"max_parallel"`
}

// LoggingConfig controls the per-session debug log
type LoggingConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Level   string `mapstructure:"level"`
}

// PathsConfig overrides filesystem locations
type PathsConfig struct {
	// ProjectRoot is the directory whose .crewsync tree holds all
	// sessions. Empty means the current working directory (or the
	// enclosing git repository root when inside one).
	ProjectRoot string `mapstructure:"project_root"`
}

// AcquireTimeout returns the lock acquisition timeout as a Duration
func (c *LockConfig) AcquireTimeout() time.Duration {
	return time.Duration(c.AcquireTimeoutSeconds) * time.Second
}

// StaleTTL returns the lock staleness TTL as a Duration
func (c *LockConfig) StaleTTL() time.Duration {
	return time.Duration(c.StaleTTLMinutes) * time.Minute
}

// MaxAge returns the record retention age as a Duration
func (c *StateConfig) MaxAge() time.Duration {
	return time.Duration(c.MaxAgeHours) * time.Hour
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Lock: LockConfig{
			AcquireTimeoutSeconds: 5,
			StaleTTLMinutes:       30,
		},
		State: StateConfig{
			MaxAgeHours: 24,
		},
		Workspace: WorkspaceConfig{
			RemoveOnCompletion: false, // keep worktrees until an explicit cleanup
		},
		Cleanup: CleanupConfig{
			MaxParallel: 4,
		},
		Logging: LoggingConfig{
			Enabled: true,
			Level:   "info",
		},
		Paths: PathsConfig{
			ProjectRoot: "",
		},
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("lock.acquire_timeout_seconds", defaults.Lock.AcquireTimeoutSeconds)
	viper.SetDefault("lock.stale_ttl_minutes", defaults.Lock.StaleTTLMinutes)

	viper.SetDefault("state.max_age_hours", defaults.State.MaxAgeHours)

	viper.SetDefault("workspace.remove_on_completion", defaults.Workspace.RemoveOnCompletion)

	viper.SetDefault("cleanup.max_parallel", defaults.Cleanup.MaxParallel)

	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)

	viper.SetDefault("paths.project_root", defaults.Paths.ProjectRoot)
}

// Load reads the configuration from viper into a Config struct and
// validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration, falling back to defaults when
// loading fails
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "crewsync")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".crewsync"
	}
	return filepath.Join(home, ".config", "crewsync")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
