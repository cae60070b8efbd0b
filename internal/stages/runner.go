package stages

import (
	"context"

	"github.com/google/uuid"
)

// Runner executes one pipeline stage for a document. The input is the
// predecessor stage's artifact, or a synthetic artifact holding the source
// document bytes for the first stage. Failures are reported as *Error so the
// orchestrator can decide whether to retry.
type Runner interface {
	Stage() Stage
	Run(ctx context.Context, id uuid.UUID, input *Artifact) (*Artifact, error)
}
