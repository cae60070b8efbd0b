package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/docforge/docforge/pkg/repository"
)

type repo struct {
	db     *sql.DB
	logger *slog.Logger
}

// New creates a Postgres-backed ledger. The compare-and-swap is a conditional
// UPDATE on the documents row; history rows are written in the same
// transaction so the audit log cannot drift from the current state.
func New(db *sql.DB, logger *slog.Logger) System {
	return &repo{
		db:     db,
		logger: logger.With("system", "ledger"),
	}
}

func (r *repo) State(ctx context.Context, id uuid.UUID) (State, error) {
	q := "SELECT state FROM documents WHERE id = $1"

	raw, err := repository.QueryOne(ctx, r.db, q, []any{id}, scanState)
	if err != nil {
		return "", repository.MapError(err, ErrNotFound, err)
	}

	return ParseState(raw)
}

func (r *repo) Transition(ctx context.Context, id uuid.UUID, from, to State, actor string) error {
	if !ValidTransition(from, to) {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, from, to)
	}

	_, err := repository.WithTx(ctx, r.db, func(tx *sql.Tx) (struct{}, error) {
		err := repository.ExecExpectOne(
			ctx, tx,
			"UPDATE documents SET state = $1, updated_at = now() WHERE id = $2 AND state = $3",
			to, id, from,
		)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return struct{}{}, r.classifyMiss(ctx, tx, id, from)
			}
			return struct{}{}, err
		}

		_, err = tx.ExecContext(
			ctx,
			"INSERT INTO document_transitions(document_id, from_state, to_state, actor) VALUES ($1, $2, $3, $4)",
			id, from, to, actor,
		)
		return struct{}{}, err
	})

	if err != nil {
		return err
	}

	r.logger.Info("state transition", "id", id, "from", from, "to", to, "actor", actor)
	return nil
}

// classifyMiss distinguishes a CAS miss on a known document from an unknown id.
func (r *repo) classifyMiss(ctx context.Context, tx *sql.Tx, id uuid.UUID, expected State) error {
	var current string
	err := tx.QueryRowContext(ctx, "SELECT state FROM documents WHERE id = $1", id).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	return fmt.Errorf("%w: expected %s, found %s", ErrConflict, expected, current)
}

func (r *repo) History(ctx context.Context, id uuid.UUID) ([]Transition, error) {
	q := `
		SELECT document_id, from_state, to_state, actor, occurred_at
		FROM document_transitions
		WHERE document_id = $1
		ORDER BY occurred_at ASC, id ASC`

	transitions, err := repository.QueryMany(ctx, r.db, q, []any{id}, scanTransition)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}

	return transitions, nil
}

func (r *repo) Stats(ctx context.Context) (map[State]int, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT state, count(*) FROM documents GROUP BY state")
	if err != nil {
		return nil, fmt.Errorf("query state counts: %w", err)
	}
	defer rows.Close()

	stats := make(map[State]int, len(States))
	for _, state := range States {
		stats[state] = 0
	}

	for rows.Next() {
		var (
			raw   string
			count int
		)
		if err := rows.Scan(&raw, &count); err != nil {
			return nil, err
		}
		state, err := ParseState(raw)
		if err != nil {
			return nil, err
		}
		stats[state] = count
	}

	return stats, rows.Err()
}

func scanState(s repository.Scanner) (string, error) {
	var state string
	err := s.Scan(&state)
	return state, err
}

func scanTransition(s repository.Scanner) (Transition, error) {
	var (
		t        Transition
		from, to string
		occurred time.Time
	)

	if err := s.Scan(&t.DocumentID, &from, &to, &t.Actor, &occurred); err != nil {
		return t, err
	}

	t.From = State(from)
	t.To = State(to)
	t.OccurredAt = occurred
	return t, nil
}
