// Package config loads the service configuration from TOML files with
// environment-specific overlays and environment variable overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/docforge/docforge/internal/enhancement"
	"github.com/docforge/docforge/internal/parsing"
	"github.com/docforge/docforge/internal/pipeline"
	"github.com/docforge/docforge/pkg/database"
	"github.com/docforge/docforge/pkg/storage"
)

const (
	BaseConfigFile       = "config.toml"
	OverlayConfigPattern = "config.%s.toml"

	EnvDocforgeEnv             = "DOCFORGE_ENV"
	EnvDocforgeShutdownTimeout = "DOCFORGE_SHUTDOWN_TIMEOUT"
	EnvDocforgeVersion         = "DOCFORGE_VERSION"
)

var databaseEnv = &database.Env{
	Host:            "DOCFORGE_DB_HOST",
	Port:            "DOCFORGE_DB_PORT",
	Name:            "DOCFORGE_DB_NAME",
	User:            "DOCFORGE_DB_USER",
	Password:        "DOCFORGE_DB_PASSWORD",
	SSLMode:         "DOCFORGE_DB_SSL_MODE",
	MaxOpenConns:    "DOCFORGE_DB_MAX_OPEN_CONNS",
	MaxIdleConns:    "DOCFORGE_DB_MAX_IDLE_CONNS",
	ConnMaxLifetime: "DOCFORGE_DB_CONN_MAX_LIFETIME",
	ConnTimeout:     "DOCFORGE_DB_CONN_TIMEOUT",
}

var storageEnv = &storage.Env{
	ContainerName:    "DOCFORGE_STORAGE_CONTAINER_NAME",
	ConnectionString: "DOCFORGE_STORAGE_CONNECTION_STRING",
	MaxListSize:      "DOCFORGE_STORAGE_MAX_LIST_SIZE",
	CacheTTLSeconds:  "DOCFORGE_STORAGE_CACHE_TTL_SECONDS",
}

var pipelineEnv = &pipeline.Env{
	WorkspaceRoot:      "DOCFORGE_PIPELINE_WORKSPACE_ROOT",
	RetryAttempts:      "DOCFORGE_PIPELINE_RETRY_ATTEMPTS",
	RetryDelay:         "DOCFORGE_PIPELINE_RETRY_DELAY",
	MaxTimeout:         "DOCFORGE_PIPELINE_MAX_TIMEOUT",
	CleanupAfterUpload: "DOCFORGE_PIPELINE_CLEANUP_AFTER_UPLOAD",
	StuckTimeout:       "DOCFORGE_PIPELINE_STUCK_TIMEOUT",
}

var parserEnv = &parsing.Env{
	Endpoint:       "DOCFORGE_PARSER_ENDPOINT",
	APIKey:         "DOCFORGE_PARSER_API_KEY",
	UsePremiumMode: "DOCFORGE_PARSER_USE_PREMIUM_MODE",
}

var enhancerEnv = &enhancement.Env{
	APIKey:    "DOCFORGE_ENHANCER_API_KEY",
	BaseURL:   "DOCFORGE_ENHANCER_BASE_URL",
	Model:     "DOCFORGE_ENHANCER_MODEL",
	MaxTokens: "DOCFORGE_ENHANCER_MAX_TOKENS",
}

// Config is the root configuration for the docforge service.
type Config struct {
	Server          ServerConfig       `toml:"server"`
	Database        database.Config    `toml:"database"`
	Storage         storage.Config     `toml:"storage"`
	Pipeline        pipeline.Config    `toml:"pipeline"`
	Parser          parsing.Config     `toml:"parser"`
	Enhancer        enhancement.Config `toml:"enhancer"`
	API             APIConfig          `toml:"api"`
	ShutdownTimeout string             `toml:"shutdown_timeout"`
	Version         string             `toml:"version"`
}

// Env returns the DOCFORGE_ENV value, defaulting to "local".
func (c *Config) Env() string {
	if env := os.Getenv(EnvDocforgeEnv); env != "" {
		return env
	}
	return "local"
}

// ShutdownTimeoutDuration returns ShutdownTimeout as a time.Duration.
func (c *Config) ShutdownTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.ShutdownTimeout)
	return d
}

// Load reads the base config (if present), applies any environment overlay,
// and finalizes all values. If no config.toml exists, defaults and environment
// variables provide all configuration.
func Load() (*Config, error) {
	cfg := &Config{}

	if _, err := os.Stat(BaseConfigFile); err == nil {
		loaded, err := load(BaseConfigFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if path := overlayPath(); path != "" {
		overlay, err := load(path)
		if err != nil {
			return nil, fmt.Errorf("load overlay %s: %w", path, err)
		}
		cfg.Merge(overlay)
	}

	if err := cfg.finalize(); err != nil {
		return nil, fmt.Errorf("finalize config: %w", err)
	}

	return cfg, nil
}

// Merge overwrites non-zero fields from overlay across all sub-configs.
func (c *Config) Merge(overlay *Config) {
	if overlay.ShutdownTimeout != "" {
		c.ShutdownTimeout = overlay.ShutdownTimeout
	}
	if overlay.Version != "" {
		c.Version = overlay.Version
	}
	c.Server.Merge(&overlay.Server)
	c.Database.Merge(&overlay.Database)
	c.Storage.Merge(&overlay.Storage)
	c.Pipeline.Merge(&overlay.Pipeline)
	c.Parser.Merge(&overlay.Parser)
	c.Enhancer.Merge(&overlay.Enhancer)
	c.API.Merge(&overlay.API)
}

func (c *Config) finalize() error {
	c.loadDefaults()
	c.loadEnv()

	if err := c.validate(); err != nil {
		return err
	}
	if err := c.Server.Finalize(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Database.Finalize(databaseEnv); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := c.Storage.Finalize(storageEnv); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := c.Pipeline.Finalize(pipelineEnv); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	if err := c.Parser.Finalize(parserEnv); err != nil {
		return fmt.Errorf("parser: %w", err)
	}
	if err := c.Enhancer.Finalize(enhancerEnv); err != nil {
		return fmt.Errorf("enhancer: %w", err)
	}
	if err := c.API.Finalize(); err != nil {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}

func (c *Config) loadDefaults() {
	if c.ShutdownTimeout == "" {
		c.ShutdownTimeout = "30s"
	}
	if c.Version == "" {
		c.Version = "0.1.0"
	}
}

func (c *Config) loadEnv() {
	if v := os.Getenv(EnvDocforgeShutdownTimeout); v != "" {
		c.ShutdownTimeout = v
	}
	if v := os.Getenv(EnvDocforgeVersion); v != "" {
		c.Version = v
	}
}

func (c *Config) validate() error {
	if _, err := time.ParseDuration(c.ShutdownTimeout); err != nil {
		return fmt.Errorf("invalid shutdown_timeout: %w", err)
	}
	return nil
}

func load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

func overlayPath() string {
	if env := os.Getenv(EnvDocforgeEnv); env != "" {
		path := fmt.Sprintf(OverlayConfigPattern, env)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
