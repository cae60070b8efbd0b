package stages

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/docforge/docforge/internal/enhancement"
)

const enhancePrompt = `You are improving the output of a PDF-to-markdown conversion.
Clean up the following markdown: fix broken headings and tables, merge split
paragraphs, remove page artifacts, and preserve all factual content exactly.
Return only the corrected markdown.

%s`

// EnhanceRunner improves parsed markdown via the external completion service.
type EnhanceRunner struct {
	client *enhancement.Client
}

// NewEnhanceRunner creates the enhance stage runner.
func NewEnhanceRunner(client *enhancement.Client) *EnhanceRunner {
	return &EnhanceRunner{client: client}
}

func (r *EnhanceRunner) Stage() Stage {
	return StageEnhance
}

func (r *EnhanceRunner) Run(ctx context.Context, id uuid.UUID, input *Artifact) (*Artifact, error) {
	if input == nil || input.Stage != StageParse {
		return nil, NewError(StageEnhance, false, fmt.Errorf("enhance requires the parse artifact as input"))
	}

	enhanced, err := r.client.Complete(ctx, fmt.Sprintf(enhancePrompt, input.Content))
	if err != nil {
		return nil, NewError(StageEnhance, enhancement.IsRetryable(err), err)
	}

	if enhanced == "" {
		return nil, NewError(StageEnhance, false, fmt.Errorf("completion service returned empty content"))
	}

	return &Artifact{
		DocumentID:  id,
		Stage:       StageEnhance,
		Content:     []byte(enhanced),
		ContentType: StageEnhance.ContentType(),
	}, nil
}
