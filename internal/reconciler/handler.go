package reconciler

import (
	"log/slog"
	"net/http"

	"github.com/docforge/docforge/pkg/handlers"
	"github.com/docforge/docforge/pkg/routes"
)

// Handler exposes on-demand reconciliation scans over HTTP.
type Handler struct {
	reconciler *Reconciler
	logger     *slog.Logger
}

// NewHandler creates a reconciler HTTP handler.
func NewHandler(reconciler *Reconciler, logger *slog.Logger) *Handler {
	return &Handler{
		reconciler: reconciler,
		logger:     logger.With("system", "reconciler"),
	}
}

// Routes returns the reconciler route group.
func (h *Handler) Routes() routes.Group {
	return routes.Group{
		Prefix: "/reconcile",
		Routes: []routes.Route{
			{Method: http.MethodGet, Pattern: "", Handler: h.scan},
		},
	}
}

func (h *Handler) scan(w http.ResponseWriter, r *http.Request) {
	report, err := h.reconciler.Scan(r.Context())
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusInternalServerError, err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, report)
}
