// Package documents manages document records: ingestion of source PDFs into
// the artifact store, the catalog of known documents, and deletion. State
// changes are owned by the ledger; this package only reads state.
package documents

import (
	"time"

	"github.com/google/uuid"

	"github.com/docforge/docforge/internal/ledger"
)

// Document is a tracked document and its current lifecycle state.
type Document struct {
	ID              uuid.UUID    `json:"id"`
	SourceReference string       `json:"source_reference"`
	Filename        string       `json:"filename"`
	ContentType     string       `json:"content_type"`
	SizeBytes       int64        `json:"size_bytes"`
	PageCount       *int         `json:"page_count,omitempty"`
	State           ledger.State `json:"state"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// IngestCommand carries everything needed to register a new source document.
type IngestCommand struct {
	SourceReference string
	Filename        string
	ContentType     string
	Content         []byte
}

// StateRecord is the minimal per-document view used by reconciliation scans.
type StateRecord struct {
	ID        uuid.UUID
	State     ledger.State
	UpdatedAt time.Time
}
