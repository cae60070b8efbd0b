package pipeline

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/docforge/docforge/pkg/retry"
)

// Config holds orchestration parameters: workspace location, retry policy for
// stages and uploads, the bound on external service calls, and workspace
// cleanup behavior.
type Config struct {
	WorkspaceRoot      string `toml:"workspace_root"`
	RetryAttempts      int    `toml:"retry_attempts"`
	RetryDelay         string `toml:"retry_delay"`
	MaxTimeout         string `toml:"max_timeout"`
	CleanupAfterUpload bool   `toml:"cleanup_after_upload"`
	StuckTimeout       string `toml:"stuck_timeout"`
}

// Env maps config fields to environment variable names for override injection.
type Env struct {
	WorkspaceRoot      string
	RetryAttempts      string
	RetryDelay         string
	MaxTimeout         string
	CleanupAfterUpload string
	StuckTimeout       string
}

// RetryDelayDuration returns RetryDelay as a time.Duration.
func (c *Config) RetryDelayDuration() time.Duration {
	d, _ := time.ParseDuration(c.RetryDelay)
	return d
}

// MaxTimeoutDuration returns MaxTimeout as a time.Duration.
func (c *Config) MaxTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.MaxTimeout)
	return d
}

// StuckTimeoutDuration returns StuckTimeout as a time.Duration.
func (c *Config) StuckTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.StuckTimeout)
	return d
}

// Policy builds the retry policy used for stage execution and uploads, with
// the given retryable-error predicate.
func (c *Config) Policy(retryable func(error) bool) retry.Policy {
	return retry.Policy{
		MaxAttempts: c.RetryAttempts,
		Delay:       c.RetryDelayDuration(),
		Multiplier:  2,
		Retryable:   retryable,
	}
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *Config) Finalize(env *Env) error {
	c.loadDefaults()
	if env != nil {
		c.loadEnv(env)
	}
	return c.validate()
}

// Merge overwrites non-zero fields from overlay.
func (c *Config) Merge(overlay *Config) {
	if overlay.WorkspaceRoot != "" {
		c.WorkspaceRoot = overlay.WorkspaceRoot
	}
	if overlay.RetryAttempts != 0 {
		c.RetryAttempts = overlay.RetryAttempts
	}
	if overlay.RetryDelay != "" {
		c.RetryDelay = overlay.RetryDelay
	}
	if overlay.MaxTimeout != "" {
		c.MaxTimeout = overlay.MaxTimeout
	}
	if overlay.CleanupAfterUpload {
		c.CleanupAfterUpload = overlay.CleanupAfterUpload
	}
	if overlay.StuckTimeout != "" {
		c.StuckTimeout = overlay.StuckTimeout
	}
}

func (c *Config) loadDefaults() {
	if c.WorkspaceRoot == "" {
		c.WorkspaceRoot = "workspace"
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = 3
	}
	if c.RetryDelay == "" {
		c.RetryDelay = "2s"
	}
	if c.MaxTimeout == "" {
		c.MaxTimeout = "2m"
	}
	if c.StuckTimeout == "" {
		c.StuckTimeout = "10m"
	}
}

func (c *Config) loadEnv(env *Env) {
	if env.WorkspaceRoot != "" {
		if v := os.Getenv(env.WorkspaceRoot); v != "" {
			c.WorkspaceRoot = v
		}
	}
	if env.RetryAttempts != "" {
		if v := os.Getenv(env.RetryAttempts); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.RetryAttempts = n
			}
		}
	}
	if env.RetryDelay != "" {
		if v := os.Getenv(env.RetryDelay); v != "" {
			c.RetryDelay = v
		}
	}
	if env.MaxTimeout != "" {
		if v := os.Getenv(env.MaxTimeout); v != "" {
			c.MaxTimeout = v
		}
	}
	if env.CleanupAfterUpload != "" {
		if v := os.Getenv(env.CleanupAfterUpload); v != "" {
			if cleanup, err := strconv.ParseBool(v); err == nil {
				c.CleanupAfterUpload = cleanup
			}
		}
	}
	if env.StuckTimeout != "" {
		if v := os.Getenv(env.StuckTimeout); v != "" {
			c.StuckTimeout = v
		}
	}
}

func (c *Config) validate() error {
	if c.RetryAttempts < 1 {
		return fmt.Errorf("retry_attempts must be positive")
	}
	if _, err := time.ParseDuration(c.RetryDelay); err != nil {
		return fmt.Errorf("invalid retry_delay: %w", err)
	}
	if _, err := time.ParseDuration(c.MaxTimeout); err != nil {
		return fmt.Errorf("invalid max_timeout: %w", err)
	}
	if _, err := time.ParseDuration(c.StuckTimeout); err != nil {
		return fmt.Errorf("invalid stuck_timeout: %w", err)
	}
	return nil
}
