package api

import (
	"net/http"

	"github.com/docforge/docforge/internal/config"
	"github.com/docforge/docforge/internal/documents"
	"github.com/docforge/docforge/internal/pipeline"
	"github.com/docforge/docforge/internal/reconciler"
	"github.com/docforge/docforge/pkg/routes"
)

func registerRoutes(
	mux *http.ServeMux,
	domain *Domain,
	cfg *config.Config,
	runtime *Runtime,
) {
	maxUpload := cfg.API.MaxUploadSizeBytes()

	routes.Register(
		mux,
		documents.NewHandler(domain.Documents, maxUpload, runtime.Pagination, runtime.Logger).Routes(),
		pipeline.NewHandler(domain.Orchestrator, domain.Ledger, maxUpload, runtime.Logger).Routes(),
		reconciler.NewHandler(domain.Reconciler, runtime.Logger).Routes(),
	)
}
