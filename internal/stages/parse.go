package stages

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/docforge/docforge/internal/parsing"
)

// ParseRunner converts source document bytes into structured markdown text via
// the external parsing service.
type ParseRunner struct {
	client *parsing.Client
}

// NewParseRunner creates the parse stage runner.
func NewParseRunner(client *parsing.Client) *ParseRunner {
	return &ParseRunner{client: client}
}

func (r *ParseRunner) Stage() Stage {
	return StageParse
}

func (r *ParseRunner) Run(ctx context.Context, id uuid.UUID, input *Artifact) (*Artifact, error) {
	if input == nil || len(input.Content) == 0 {
		return nil, NewError(StageParse, false, fmt.Errorf("no source document content"))
	}

	text, err := r.client.Parse(ctx, input.Content)
	if err != nil {
		return nil, NewError(StageParse, parsing.IsRetryable(err), err)
	}

	if text == "" {
		return nil, NewError(StageParse, false, fmt.Errorf("parsing service returned empty text"))
	}

	return &Artifact{
		DocumentID:  id,
		Stage:       StageParse,
		Content:     []byte(text),
		ContentType: StageParse.ContentType(),
	}, nil
}
