package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "lock.stale_ttl_minutes")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all
// validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateLock()...)
	errors = append(errors, c.validateState()...)
	errors = append(errors, c.validateCleanup()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

func (c *Config) validateLock() []ValidationError {
	var errors []ValidationError

	if c.Lock.AcquireTimeoutSeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "lock.acquire_timeout_seconds",
			Value:   c.Lock.AcquireTimeoutSeconds,
			Message: "must not be negative",
		})
	}
	if c.Lock.StaleTTLMinutes < 1 {
		errors = append(errors, ValidationError{
			Field:   "lock.stale_ttl_minutes",
			Value:   c.Lock.StaleTTLMinutes,
			Message: "must be at least 1 minute",
		})
	}

	return errors
}

func (c *Config) validateState() []ValidationError {
	var errors []ValidationError

	if c.State.MaxAgeHours < 1 {
		errors = append(errors, ValidationError{
			Field:   "state.max_age_hours",
			Value:   c.State.MaxAgeHours,
			Message: "must be at least 1 hour",
		})
	}

	return errors
}

func (c *Config) validateCleanup() []ValidationError {
	var errors []ValidationError

	if c.Cleanup.MaxParallel < 1 {
		errors = append(errors, ValidationError{
			Field:   "cleanup.max_parallel",
			Value:   c.Cleanup.MaxParallel,
			Message: "must be at least 1",
		})
	}

	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	return errors
}
