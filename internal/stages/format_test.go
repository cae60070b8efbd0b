package stages_test

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/docforge/docforge/internal/stages"
)

func TestPivot(t *testing.T) {
	input := []byte(`{"name": ["alpha", "beta"], "count": [1, 2]}`)

	rows, err := stages.Pivot(input)
	if err != nil {
		t.Fatalf("Pivot failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if rows[0]["name"] != "alpha" || rows[1]["name"] != "beta" {
		t.Errorf("name column misaligned: %v", rows)
	}
	if rows[0]["count"] != float64(1) {
		t.Errorf("count[0] = %v, want 1", rows[0]["count"])
	}
}

func TestPivotRaggedColumns(t *testing.T) {
	input := []byte(`{"name": ["alpha", "beta"], "count": [1]}`)
	if _, err := stages.Pivot(input); err == nil {
		t.Fatal("expected error for ragged columns")
	}
}

func TestPivotEmpty(t *testing.T) {
	rows, err := stages.Pivot([]byte(`{}`))
	if err != nil {
		t.Fatalf("Pivot failed: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("rows = %d, want 0", len(rows))
	}
}

func TestPivotInvalidJSON(t *testing.T) {
	if _, err := stages.Pivot([]byte(`not json`)); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestFormatRunnerDeterministic(t *testing.T) {
	runner := stages.NewFormatRunner()
	id := uuid.New()
	input := &stages.Artifact{
		DocumentID:  id,
		Stage:       stages.StageStructure,
		Content:     []byte(`{"b": [2, 4], "a": [1, 3]}`),
		ContentType: "application/json",
	}

	first, err := runner.Run(context.Background(), id, input)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	second, err := runner.Run(context.Background(), id, input)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if !bytes.Equal(first.Content, second.Content) {
		t.Errorf("re-running format produced different bytes:\n%s\n%s", first.Content, second.Content)
	}
	if first.Summary != second.Summary {
		t.Errorf("re-running format produced different summaries:\n%s\n%s", first.Summary, second.Summary)
	}

	var rows []map[string]any
	if err := json.Unmarshal(first.Content, &rows); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if len(rows) != 2 {
		t.Errorf("rows = %d, want 2", len(rows))
	}
}

func TestSummarize(t *testing.T) {
	id := uuid.New()
	rows := []map[string]any{
		{"name": "alpha", "count": 1},
		{"name": "beta", "count": 2},
	}

	summary := stages.Summarize(id, rows)
	if !strings.Contains(summary, id.String()) {
		t.Errorf("summary missing document id:\n%s", summary)
	}
	if !strings.Contains(summary, "Records: 2") {
		t.Errorf("summary missing record count:\n%s", summary)
	}
	if !strings.Contains(summary, "Columns: count, name") {
		t.Errorf("summary columns not sorted:\n%s", summary)
	}
}

func TestFormatRunnerRejectsWrongInput(t *testing.T) {
	runner := stages.NewFormatRunner()
	id := uuid.New()

	tests := []struct {
		name  string
		input *stages.Artifact
	}{
		{"nil input", nil},
		{"wrong stage", &stages.Artifact{DocumentID: id, Stage: stages.StageParse, Content: []byte(`{}`)}},
		{"unparsable content", &stages.Artifact{DocumentID: id, Stage: stages.StageStructure, Content: []byte(`oops`)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runner.Run(context.Background(), id, tt.input)
			if err == nil {
				t.Fatal("expected error")
			}
			if stages.Retryable(err) {
				t.Error("format failures must be permanent")
			}
		})
	}
}
