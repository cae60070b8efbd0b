package documents

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/google/uuid"

	"github.com/docforge/docforge/internal/ledger"
	"github.com/docforge/docforge/pkg/handlers"
	"github.com/docforge/docforge/pkg/pagination"
	"github.com/docforge/docforge/pkg/routes"
)

// Handler exposes the document catalog over HTTP.
type Handler struct {
	documents  System
	maxUpload  int64
	pagination pagination.Config
	logger     *slog.Logger
}

// NewHandler creates a documents HTTP handler. maxUpload bounds source
// document uploads in bytes.
func NewHandler(documents System, maxUpload int64, pageCfg pagination.Config, logger *slog.Logger) *Handler {
	return &Handler{
		documents:  documents,
		maxUpload:  maxUpload,
		pagination: pageCfg,
		logger:     logger.With("system", "documents"),
	}
}

// Routes returns the documents route group.
func (h *Handler) Routes() routes.Group {
	return routes.Group{
		Prefix: "/documents",
		Routes: []routes.Route{
			{Method: http.MethodPost, Pattern: "", Handler: h.ingest},
			{Method: http.MethodGet, Pattern: "", Handler: h.list},
			{Method: http.MethodGet, Pattern: "/{id}", Handler: h.find},
			{Method: http.MethodDelete, Pattern: "/{id}", Handler: h.delete},
		},
	}
}

func (h *Handler) ingest(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)

	file, header, err := r.FormFile("document")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			handlers.RespondError(w, h.logger, http.StatusRequestEntityTooLarge, err)
			return
		}
		handlers.RespondError(w, h.logger, http.StatusBadRequest, fmt.Errorf("missing document file: %w", err))
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, fmt.Errorf("read document file: %w", err))
		return
	}

	cmd := IngestCommand{
		SourceReference: r.FormValue("source_reference"),
		Filename:        header.Filename,
		ContentType:     contentType(header),
		Content:         content,
	}

	doc, err := h.documents.Ingest(r.Context(), cmd)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusCreated, doc)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	page := pagination.PageRequestFromQuery(r.URL.Query(), h.pagination)

	var state *ledger.State
	if raw := r.URL.Query().Get("state"); raw != "" {
		parsed, err := ledger.ParseState(raw)
		if err != nil {
			handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
			return
		}
		state = &parsed
	}

	result, err := h.documents.List(r.Context(), page, state)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, result)
}

func (h *Handler) find(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	doc, err := h.documents.Find(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, doc)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	if err := h.documents.Delete(r.Context(), id); err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func parseID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid document id: %w", err)
	}
	return id, nil
}

func contentType(header *multipart.FileHeader) string {
	if ct := header.Header.Get("Content-Type"); ct != "" {
		return ct
	}
	return "application/pdf"
}
