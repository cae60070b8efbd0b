package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// FormatRunner converts the column-oriented structure artifact into
// row-oriented records. It is a pure local transform: no external calls, and
// identical input always yields byte-identical output.
type FormatRunner struct{}

// NewFormatRunner creates the format stage runner.
func NewFormatRunner() *FormatRunner {
	return &FormatRunner{}
}

func (r *FormatRunner) Stage() Stage {
	return StageFormat
}

func (r *FormatRunner) Run(ctx context.Context, id uuid.UUID, input *Artifact) (*Artifact, error) {
	if input == nil || input.Stage != StageStructure {
		return nil, NewError(StageFormat, false, fmt.Errorf("format requires the structure artifact as input"))
	}

	rows, err := Pivot(input.Content)
	if err != nil {
		return nil, NewError(StageFormat, false, err)
	}

	content, err := json.Marshal(rows)
	if err != nil {
		return nil, NewError(StageFormat, false, err)
	}

	return &Artifact{
		DocumentID:  id,
		Stage:       StageFormat,
		Content:     content,
		ContentType: StageFormat.ContentType(),
		Summary:     Summarize(id, rows),
	}, nil
}

// Summarize renders a markdown digest of the formatted records: document id,
// record count, and the column set. Deterministic for identical input.
func Summarize(id uuid.UUID, rows []map[string]any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Processing Summary\n\n")
	fmt.Fprintf(&b, "- Document: %s\n", id)
	fmt.Fprintf(&b, "- Records: %d\n", len(rows))

	if len(rows) > 0 {
		columns := make([]string, 0, len(rows[0]))
		for name := range rows[0] {
			columns = append(columns, name)
		}
		sort.Strings(columns)
		fmt.Fprintf(&b, "- Columns: %s\n", strings.Join(columns, ", "))
	}

	return b.String()
}

// Pivot converts column-oriented JSON (column name → value array) into
// row-oriented records. All columns must have the same length.
func Pivot(columnJSON []byte) ([]map[string]any, error) {
	var columns map[string][]any
	if err := json.Unmarshal(columnJSON, &columns); err != nil {
		return nil, fmt.Errorf("parse column records: %w", err)
	}

	length := -1
	for name, values := range columns {
		if length == -1 {
			length = len(values)
			continue
		}
		if len(values) != length {
			return nil, fmt.Errorf("ragged columns: %q has %d values, expected %d", name, len(values), length)
		}
	}
	if length <= 0 {
		return []map[string]any{}, nil
	}

	rows := make([]map[string]any, length)
	for i := range rows {
		row := make(map[string]any, len(columns))
		for name, values := range columns {
			row[name] = values[i]
		}
		rows[i] = row
	}

	return rows, nil
}
