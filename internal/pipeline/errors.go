package pipeline

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/docforge/docforge/internal/ledger"
	"github.com/docforge/docforge/internal/stages"
)

// Orchestration errors.
var (
	// ErrAlreadyProcessing indicates another run holds the document; the
	// initial compare-and-swap to processing lost.
	ErrAlreadyProcessing = errors.New("document is already being processed")
	// ErrUploadFailed indicates checkpoint uploads exhausted their retry
	// ceiling after all stages succeeded.
	ErrUploadFailed = errors.New("checkpoint upload failed")
)

// Error is a terminal pipeline failure: the named stage failed after retries
// (or permanently) and the document was rolled back to raw.
type Error struct {
	Stage stages.Stage
	Cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("pipeline failed at stage %s: %v", e.Stage, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// MapHTTPStatus maps pipeline errors to HTTP status codes, falling back to
// the ledger mapping for state errors.
func MapHTTPStatus(err error) int {
	if errors.Is(err, ErrAlreadyProcessing) {
		return http.StatusConflict
	}
	if errors.Is(err, ErrUploadFailed) {
		return http.StatusBadGateway
	}

	var pipelineErr *Error
	if errors.As(err, &pipelineErr) {
		return http.StatusBadGateway
	}

	return ledger.MapHTTPStatus(err)
}
