package api

import (
	"fmt"

	"github.com/docforge/docforge/internal/documents"
	"github.com/docforge/docforge/internal/enhancement"
	"github.com/docforge/docforge/internal/ledger"
	"github.com/docforge/docforge/internal/parsing"
	"github.com/docforge/docforge/internal/pipeline"
	"github.com/docforge/docforge/internal/reconciler"
	"github.com/docforge/docforge/internal/stages"
)

// Domain holds all domain systems that comprise the API.
type Domain struct {
	Ledger       ledger.System
	Documents    documents.System
	Orchestrator *pipeline.Orchestrator
	Reconciler   *reconciler.Reconciler
}

// NewDomain creates all domain systems from the API runtime.
func NewDomain(runtime *Runtime) (*Domain, error) {
	cfg := runtime.Config
	db := runtime.Database.Connection()

	ledgerSystem := ledger.New(db, runtime.Logger)

	docsSystem := documents.New(
		db,
		runtime.Storage,
		runtime.Workspace,
		cfg.Pipeline.Policy(nil),
		runtime.Logger,
	)

	parseClient := parsing.NewClient(&cfg.Parser, cfg.Pipeline.MaxTimeoutDuration(), runtime.Logger)
	enhanceClient := enhancement.NewClient(&cfg.Enhancer, cfg.Pipeline.MaxTimeoutDuration(), runtime.Logger)

	runners := []stages.Runner{
		stages.NewParseRunner(parseClient),
		stages.NewEnhanceRunner(enhanceClient),
		stages.NewStructureRunner(enhanceClient),
		stages.NewFormatRunner(),
	}

	orchestrator, err := pipeline.New(
		&cfg.Pipeline,
		ledgerSystem,
		runtime.Storage,
		runtime.Workspace,
		runners,
		runtime.Logger,
	)
	if err != nil {
		return nil, fmt.Errorf("orchestrator init failed: %w", err)
	}

	reconcilerSystem := reconciler.New(
		docsSystem,
		runtime.Storage,
		runtime.Workspace,
		cfg.Pipeline.StuckTimeoutDuration(),
		runtime.Logger,
	)

	return &Domain{
		Ledger:       ledgerSystem,
		Documents:    docsSystem,
		Orchestrator: orchestrator,
		Reconciler:   reconcilerSystem,
	}, nil
}
