package pipeline

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/docforge/docforge/internal/ledger"
	"github.com/docforge/docforge/pkg/handlers"
	"github.com/docforge/docforge/pkg/routes"
)

// Handler exposes pipeline orchestration over HTTP.
type Handler struct {
	orchestrator *Orchestrator
	ledger       ledger.System
	maxBody      int64
	logger       *slog.Logger
}

// NewHandler creates a pipeline HTTP handler. maxBody bounds the approval
// request body size in bytes.
func NewHandler(orchestrator *Orchestrator, led ledger.System, maxBody int64, logger *slog.Logger) *Handler {
	return &Handler{
		orchestrator: orchestrator,
		ledger:       led,
		maxBody:      maxBody,
		logger:       logger.With("system", "pipeline"),
	}
}

// Routes returns the pipeline route group.
func (h *Handler) Routes() routes.Group {
	return routes.Group{
		Prefix: "/pipeline",
		Routes: []routes.Route{
			{Method: http.MethodPost, Pattern: "/{id}/run", Handler: h.run},
			{Method: http.MethodPost, Pattern: "/{id}/approve", Handler: h.approve},
			{Method: http.MethodGet, Pattern: "/{id}/history", Handler: h.history},
			{Method: http.MethodGet, Pattern: "/stats", Handler: h.stats},
		},
	}
}

func (h *Handler) run(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	rec, err := h.orchestrator.Run(r.Context(), id)
	if err != nil {
		if rec != nil {
			handlers.RespondJSON(w, MapHTTPStatus(err), rec)
			return
		}
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, rec)
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	content, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusRequestEntityTooLarge, err)
		return
	}
	if len(content) == 0 {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, fmt.Errorf("approval content must not be empty"))
		return
	}

	actor := r.Header.Get("X-Reviewer")
	if actor == "" {
		actor = "reviewer"
	}

	if err := h.orchestrator.ApproveFinal(r.Context(), id, content, actor); err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, map[string]string{
		"document_id": id.String(),
		"state":       string(ledger.StateFinal),
	})
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	history, err := h.ledger.History(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, ledger.MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, history)
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.ledger.Stats(r.Context())
	if err != nil {
		handlers.RespondError(w, h.logger, ledger.MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, stats)
}

func parseID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid document id: %w", err)
	}
	return id, nil
}
