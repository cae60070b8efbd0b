package documents

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/docforge/docforge/internal/ledger"
	"github.com/docforge/docforge/internal/stages"
	"github.com/docforge/docforge/internal/workspace"
	"github.com/docforge/docforge/pkg/pagination"
	"github.com/docforge/docforge/pkg/repository"
	"github.com/docforge/docforge/pkg/retry"
	"github.com/docforge/docforge/pkg/storage"
)

// System is the document catalog contract.
type System interface {
	// Ingest uploads a source PDF to the artifact store and registers the
	// document in the raw state.
	Ingest(ctx context.Context, cmd IngestCommand) (*Document, error)
	// Find returns a document by id. Returns ErrNotFound for unknown ids.
	Find(ctx context.Context, id uuid.UUID) (*Document, error)
	// List returns a page of documents, optionally filtered by state.
	List(ctx context.Context, page pagination.PageRequest, state *ledger.State) (pagination.PageResult[Document], error)
	// Delete removes a document's record, its stored artifacts, and its
	// workspace directory. Documents in processing cannot be deleted.
	Delete(ctx context.Context, id uuid.UUID) error
	// States lists every document's id, state, and last update time.
	States(ctx context.Context) ([]StateRecord, error)
}

type repo struct {
	db           *sql.DB
	store        storage.System
	workspace    *workspace.Manager
	uploadPolicy retry.Policy
	logger       *slog.Logger
}

// New creates a document system backed by Postgres and the artifact store.
func New(db *sql.DB, store storage.System, ws *workspace.Manager, uploadPolicy retry.Policy, logger *slog.Logger) System {
	return &repo{
		db:           db,
		store:        store,
		workspace:    ws,
		uploadPolicy: uploadPolicy,
		logger:       logger.With("system", "documents"),
	}
}

const documentColumns = "id, source_reference, filename, content_type, size_bytes, page_count, state, created_at, updated_at"

func (r *repo) Ingest(ctx context.Context, cmd IngestCommand) (*Document, error) {
	if len(cmd.Content) == 0 {
		return nil, ErrEmptySource
	}
	if !isPDF(cmd) {
		return nil, fmt.Errorf("%w: content type %q", ErrNotPDF, cmd.ContentType)
	}

	id := uuid.New()
	pageCount := r.pageCount(id, cmd.Content)

	key := stages.SourceKey(id)
	err := r.uploadPolicy.Do(ctx, func(ctx context.Context) error {
		return r.store.Put(ctx, key, bytes.NewReader(cmd.Content), "application/pdf")
	})
	if err != nil {
		return nil, fmt.Errorf("store source document: %w", err)
	}

	q := fmt.Sprintf(`
		INSERT INTO documents(id, source_reference, filename, content_type, size_bytes, page_count, state)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING %s`, documentColumns)

	doc, err := repository.QueryOne(
		ctx, r.db, q,
		[]any{id, cmd.SourceReference, cmd.Filename, cmd.ContentType, int64(len(cmd.Content)), pageCount, ledger.StateRaw},
		scanDocument,
	)
	if err != nil {
		// the registration failed; the uploaded blob must not outlive it
		if cleanupErr := r.store.Delete(context.WithoutCancel(ctx), key); cleanupErr != nil && !errors.Is(cleanupErr, storage.ErrNotFound) {
			r.logger.Error("orphaned source blob after failed ingest", "key", key, "error", cleanupErr)
		}
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}

	r.logger.Info("document ingested", "id", id, "filename", cmd.Filename, "bytes", len(cmd.Content))
	return &doc, nil
}

func (r *repo) Find(ctx context.Context, id uuid.UUID) (*Document, error) {
	q := fmt.Sprintf("SELECT %s FROM documents WHERE id = $1", documentColumns)

	doc, err := repository.QueryOne(ctx, r.db, q, []any{id}, scanDocument)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}

	return &doc, nil
}

func (r *repo) List(ctx context.Context, page pagination.PageRequest, state *ledger.State) (pagination.PageResult[Document], error) {
	var zero pagination.PageResult[Document]

	where := ""
	args := []any{}
	if state != nil {
		where = "WHERE state = $1"
		args = append(args, *state)
	}

	var total int
	countQuery := fmt.Sprintf("SELECT count(*) FROM documents %s", where)
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return zero, fmt.Errorf("count documents: %w", err)
	}

	q := fmt.Sprintf(`
		SELECT %s FROM documents %s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d`,
		documentColumns, where, len(args)+1, len(args)+2)
	args = append(args, page.PageSize, page.Offset())

	docs, err := repository.QueryMany(ctx, r.db, q, args, scanDocument)
	if err != nil {
		return zero, fmt.Errorf("query documents: %w", err)
	}

	return pagination.NewPageResult(docs, total, page.Page, page.PageSize), nil
}

func (r *repo) Delete(ctx context.Context, id uuid.UUID) error {
	doc, err := r.Find(ctx, id)
	if err != nil {
		return err
	}
	if doc.State == ledger.StateProcessing {
		return ErrNotDeletable
	}

	if err := repository.ExecExpectOne(ctx, r.db, "DELETE FROM documents WHERE id = $1", id); err != nil {
		return repository.MapError(err, ErrNotFound, ErrDuplicate)
	}

	for _, tag := range []stages.Tag{stages.TagRaw, stages.TagProcessed, stages.TagFinal} {
		prefix := fmt.Sprintf("%s/%s/", tag, id)
		keys, err := r.store.List(ctx, prefix)
		if err != nil {
			r.logger.Warn("list artifacts for deletion failed", "id", id, "prefix", prefix, "error", err)
			continue
		}
		for _, key := range keys {
			if err := r.store.Delete(ctx, key); err != nil && !errors.Is(err, storage.ErrNotFound) {
				r.logger.Warn("artifact deletion failed", "id", id, "key", key, "error", err)
			}
		}
	}

	if err := r.workspace.Remove(id); err != nil {
		r.logger.Warn("workspace removal failed", "id", id, "error", err)
	}

	r.logger.Info("document deleted", "id", id)
	return nil
}

func (r *repo) States(ctx context.Context) ([]StateRecord, error) {
	q := "SELECT id, state, updated_at FROM documents ORDER BY created_at ASC"

	records, err := repository.QueryMany(ctx, r.db, q, nil, scanStateRecord)
	if err != nil {
		return nil, fmt.Errorf("query document states: %w", err)
	}

	return records, nil
}

// pageCount inspects the PDF for its page count. Unreadable page structure is
// not fatal: the document may still parse downstream.
func (r *repo) pageCount(id uuid.UUID, content []byte) *int {
	count, err := api.PageCount(bytes.NewReader(content), nil)
	if err != nil {
		r.logger.Warn("page count unavailable", "id", id, "error", err)
		return nil
	}
	return &count
}

func isPDF(cmd IngestCommand) bool {
	if cmd.ContentType != "" && cmd.ContentType != "application/pdf" {
		return false
	}
	return bytes.HasPrefix(cmd.Content, []byte("%PDF-")) || strings.HasSuffix(strings.ToLower(cmd.Filename), ".pdf")
}

func scanDocument(s repository.Scanner) (Document, error) {
	var (
		doc   Document
		state string
	)

	err := s.Scan(
		&doc.ID,
		&doc.SourceReference,
		&doc.Filename,
		&doc.ContentType,
		&doc.SizeBytes,
		&doc.PageCount,
		&state,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	)
	if err != nil {
		return doc, err
	}

	doc.State = ledger.State(state)
	return doc, nil
}

func scanStateRecord(s repository.Scanner) (StateRecord, error) {
	var (
		record StateRecord
		state  string
		at     time.Time
	)

	if err := s.Scan(&record.ID, &state, &at); err != nil {
		return record, err
	}

	record.State = ledger.State(state)
	record.UpdatedAt = at
	return record, nil
}
