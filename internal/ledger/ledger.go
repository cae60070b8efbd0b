// Package ledger implements the document lifecycle state machine. It is the
// authoritative record of each document's state: every state change goes
// through a compare-and-swap transition, and every transition is appended to
// an audit history.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// State is a document lifecycle state. States form a fixed forward order
// (raw → processing → processed → final) with a single rollback edge
// (processing → raw) for failed pipeline runs.
type State string

// Document lifecycle states.
const (
	StateRaw        State = "raw"
	StateProcessing State = "processing"
	StateProcessed  State = "processed"
	StateFinal      State = "final"
)

// States lists all lifecycle states in pipeline order.
var States = []State{StateRaw, StateProcessing, StateProcessed, StateFinal}

var validTransitions = map[State][]State{
	StateRaw:        {StateProcessing},
	StateProcessing: {StateProcessed, StateRaw},
	StateProcessed:  {StateFinal},
}

// ParseState converts a string into a State, or fails for unknown values.
func ParseState(s string) (State, error) {
	for _, state := range States {
		if s == string(state) {
			return state, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownState, s)
}

// ValidTransition reports whether the edge from → to is part of the lifecycle
// state machine.
func ValidTransition(from, to State) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition records one audited state change.
type Transition struct {
	DocumentID uuid.UUID `json:"document_id"`
	From       State     `json:"from"`
	To         State     `json:"to"`
	Actor      string    `json:"actor"`
	OccurredAt time.Time `json:"occurred_at"`
}

// System is the state ledger contract. Transition is a compare-and-swap: it
// fails with ErrConflict when the stored state no longer equals from, which is
// the sole mutual-exclusion mechanism between concurrent pipeline runs on the
// same document.
type System interface {
	// State returns the current lifecycle state of a document.
	// Returns ErrNotFound for unknown document ids.
	State(ctx context.Context, id uuid.UUID) (State, error)
	// Transition atomically moves a document from one state to another and
	// appends the change to the audit history. Returns ErrInvalidTransition
	// for edges outside the state machine, ErrConflict when the stored state
	// does not match from, and ErrNotFound for unknown document ids.
	Transition(ctx context.Context, id uuid.UUID, from, to State, actor string) error
	// History returns the append-only transition log for a document, oldest first.
	History(ctx context.Context, id uuid.UUID) ([]Transition, error)
	// Stats returns the count of documents currently in each state.
	Stats(ctx context.Context) (map[State]int, error)
}
