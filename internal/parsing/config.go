package parsing

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds parsing service connection parameters.
type Config struct {
	Endpoint       string `toml:"endpoint"`
	APIKey         string `toml:"api_key"`
	UsePremiumMode bool   `toml:"use_premium_mode"`
}

// Env maps config fields to environment variable names for override injection.
type Env struct {
	Endpoint       string
	APIKey         string
	UsePremiumMode string
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *Config) Finalize(env *Env) error {
	if env != nil {
		c.loadEnv(env)
	}
	return c.validate()
}

// Merge overwrites non-zero fields from overlay.
func (c *Config) Merge(overlay *Config) {
	if overlay.Endpoint != "" {
		c.Endpoint = overlay.Endpoint
	}
	if overlay.APIKey != "" {
		c.APIKey = overlay.APIKey
	}
	if overlay.UsePremiumMode {
		c.UsePremiumMode = overlay.UsePremiumMode
	}
}

func (c *Config) loadEnv(env *Env) {
	if env.Endpoint != "" {
		if v := os.Getenv(env.Endpoint); v != "" {
			c.Endpoint = v
		}
	}
	if env.APIKey != "" {
		if v := os.Getenv(env.APIKey); v != "" {
			c.APIKey = v
		}
	}
	if env.UsePremiumMode != "" {
		if v := os.Getenv(env.UsePremiumMode); v != "" {
			if premium, err := strconv.ParseBool(v); err == nil {
				c.UsePremiumMode = premium
			}
		}
	}
}

func (c *Config) validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint required")
	}
	return nil
}
