package stages

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/docforge/docforge/internal/enhancement"
	"github.com/docforge/docforge/pkg/formatting"
)

const structurePrompt = `Extract the tabular content of the following markdown document
into column-oriented JSON: an object mapping each column name to the array of its
values, all arrays the same length. Return only the JSON object.

%s`

// StructureRunner extracts column-oriented structured records from enhanced
// markdown via the external completion service. The model response must parse
// as a column map; anything else is a contract mismatch and is not retried.
type StructureRunner struct {
	client *enhancement.Client
}

// NewStructureRunner creates the structure stage runner.
func NewStructureRunner(client *enhancement.Client) *StructureRunner {
	return &StructureRunner{client: client}
}

func (r *StructureRunner) Stage() Stage {
	return StageStructure
}

func (r *StructureRunner) Run(ctx context.Context, id uuid.UUID, input *Artifact) (*Artifact, error) {
	if input == nil || input.Stage != StageEnhance {
		return nil, NewError(StageStructure, false, fmt.Errorf("structure requires the enhance artifact as input"))
	}

	response, err := r.client.Complete(ctx, fmt.Sprintf(structurePrompt, input.Content))
	if err != nil {
		return nil, NewError(StageStructure, enhancement.IsRetryable(err), err)
	}

	columns, err := formatting.Parse[map[string][]any](response)
	if err != nil {
		return nil, NewError(StageStructure, false, err)
	}

	// Re-marshal so the stored artifact is canonical JSON with sorted keys,
	// independent of model output formatting.
	content, err := json.Marshal(columns)
	if err != nil {
		return nil, NewError(StageStructure, false, err)
	}

	return &Artifact{
		DocumentID:  id,
		Stage:       StageStructure,
		Content:     content,
		ContentType: StageStructure.ContentType(),
	}, nil
}
