// Package infrastructure provides core service initialization for application startup.
// It assembles common dependencies (logging, database, storage, workspace) that
// domain systems require.
package infrastructure

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/docforge/docforge/internal/config"
	"github.com/docforge/docforge/internal/workspace"
	"github.com/docforge/docforge/pkg/cache"
	"github.com/docforge/docforge/pkg/database"
	"github.com/docforge/docforge/pkg/lifecycle"
	"github.com/docforge/docforge/pkg/storage"
)

// Infrastructure holds the core systems required by all domain modules.
// It provides a single point of initialization for lifecycle coordination,
// logging, database access, artifact storage, and the local workspace.
type Infrastructure struct {
	Lifecycle *lifecycle.Coordinator
	Logger    *slog.Logger
	Database  database.System
	Storage   storage.System
	Workspace *workspace.Manager
}

// New creates an Infrastructure from the application configuration.
// It initializes all systems but does not start them; call Start separately.
// When storage cache_ttl_seconds is set, reads go through an in-memory
// read-through cache.
func New(cfg *config.Config) (*Infrastructure, error) {
	lc := lifecycle.New()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	db, err := database.New(&cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("database init failed: %w", err)
	}

	store, err := storage.New(&cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("storage init failed: %w", err)
	}
	if ttl := cfg.Storage.CacheTTLSeconds; ttl > 0 {
		store = cache.Wrap(store, time.Duration(ttl)*time.Second, logger)
	}

	ws, err := workspace.New(cfg.Pipeline.WorkspaceRoot, logger)
	if err != nil {
		return nil, fmt.Errorf("workspace init failed: %w", err)
	}

	return &Infrastructure{
		Lifecycle: lc,
		Logger:    logger,
		Database:  db,
		Storage:   store,
		Workspace: ws,
	}, nil
}

// Start registers all infrastructure systems with the lifecycle coordinator.
// Database and storage hooks are registered for startup and shutdown coordination.
func (i *Infrastructure) Start() error {
	if err := i.Database.Start(i.Lifecycle); err != nil {
		return fmt.Errorf("database start failed: %w", err)
	}
	if err := i.Storage.Start(i.Lifecycle); err != nil {
		return fmt.Errorf("storage start failed: %w", err)
	}
	return nil
}
