package pipeline

import (
	"time"

	"github.com/google/uuid"

	"github.com/docforge/docforge/internal/stages"
)

// Outcome classifies one stage's result within a run.
type Outcome string

// Stage outcomes.
const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
)

// StageResult records one stage's outcome within a single run.
type StageResult struct {
	Stage       stages.Stage `json:"stage"`
	Outcome     Outcome      `json:"outcome"`
	Attempts    int          `json:"attempts"`
	Error       string       `json:"error,omitempty"`
	StartedAt   time.Time    `json:"started_at"`
	CompletedAt time.Time    `json:"completed_at"`
}

// RunRecord is the ephemeral record of one orchestration invocation. It is
// returned to the caller and logged, not persisted; the ledger's transition
// history is the durable audit trail.
type RunRecord struct {
	DocumentID  uuid.UUID     `json:"document_id"`
	Results     []StageResult `json:"results"`
	Error       string        `json:"error,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
}

func newRunRecord(id uuid.UUID) *RunRecord {
	return &RunRecord{
		DocumentID: id,
		Results:    make([]StageResult, 0, len(stages.Order)),
		StartedAt:  time.Now().UTC(),
	}
}

func (r *RunRecord) record(stage stages.Stage, outcome Outcome, attempts int, startedAt time.Time, err error) {
	result := StageResult{
		Stage:       stage,
		Outcome:     outcome,
		Attempts:    attempts,
		StartedAt:   startedAt,
		CompletedAt: time.Now().UTC(),
	}
	if err != nil {
		result.Error = err.Error()
	}
	r.Results = append(r.Results, result)
}

// skipAfter marks every stage after the given one as skipped.
func (r *RunRecord) skipAfter(stage stages.Stage) {
	now := time.Now().UTC()
	for _, s := range stage.Downstream() {
		r.Results = append(r.Results, StageResult{
			Stage:       s,
			Outcome:     OutcomeSkipped,
			StartedAt:   now,
			CompletedAt: now,
		})
	}
}

func (r *RunRecord) finish(err error) {
	r.CompletedAt = time.Now().UTC()
	if err != nil {
		r.Error = err.Error()
	}
}
