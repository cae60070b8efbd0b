// Package repository provides the generic query and transaction helpers the
// document catalog and state ledger repositories are built on. Domain packages
// supply a ScanFunc per row shape (documents, transitions, state counts) and
// keep their SQL beside their types.
package repository

import (
	"context"
	"database/sql"
)

// Querier is the read surface shared by *sql.DB, *sql.Tx, and *sql.Conn, so
// the same helpers serve both standalone queries and transactional reads.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Executor is the write surface shared by *sql.DB, *sql.Tx, and *sql.Conn.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Scanner abstracts row scanning so a ScanFunc works for both single-row and
// multi-row queries.
type Scanner interface {
	Scan(dest ...any) error
}

// ScanFunc converts one row into a typed value, e.g. a document record or a
// state transition.
type ScanFunc[T any] func(Scanner) (T, error)

// WithTx runs fn inside a transaction, committing on success and rolling back
// on error or panic. The ledger uses this to pair a state update with its
// history insert.
func WithTx[T any](ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) (T, error)) (T, error) {
	var zero T

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return zero, err
	}
	defer tx.Rollback()

	result, err := fn(tx)
	if err != nil {
		return zero, err
	}

	if err := tx.Commit(); err != nil {
		return zero, err
	}

	return result, nil
}

// QueryOne runs a query expected to return a single row and scans it.
func QueryOne[T any](ctx context.Context, q Querier, query string, args []any, scan ScanFunc[T]) (T, error) {
	result, err := scan(q.QueryRowContext(ctx, query, args...))
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// QueryMany runs a query and scans every row. No rows yields an empty slice,
// never nil, so list responses serialize as [] rather than null.
func QueryMany[T any](ctx context.Context, q Querier, query string, args []any, scan ScanFunc[T]) ([]T, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]T, 0)
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return results, nil
}

// ExecExpectOne runs a statement that must affect exactly one row and returns
// sql.ErrNoRows when it affects none. This is the primitive behind the
// ledger's compare-and-swap: a conditional UPDATE that matched no row means
// the expected state was not current.
func ExecExpectOne(ctx context.Context, e Executor, query string, args ...any) error {
	result, err := e.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}

	return nil
}
