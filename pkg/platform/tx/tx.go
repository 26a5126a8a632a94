// Package tx carries a SQL transaction through context so stores can join a
// caller-owned unit of work without widening their interfaces.
package tx

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type ctxKey struct{}

var txKey = ctxKey{}

// DefaultTimeout bounds transactions started without a caller deadline.
const DefaultTimeout = 5 * time.Second

// WithTx stores a SQL transaction in context for downstream store usage.
func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, txKey, tx)
}

// From extracts a SQL transaction from context if present.
func From(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey).(*sql.Tx)
	return tx, ok
}

// Executor is the subset of *sql.DB and *sql.Tx used by stores.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ExecutorFrom returns the transaction in ctx, falling back to db.
func ExecutorFrom(ctx context.Context, db *sql.DB) Executor {
	if tx, ok := From(ctx); ok {
		return tx
	}
	return db
}

// Run executes fn inside a transaction that is committed when fn returns nil.
// A transaction already present in ctx is reused and left for its owner to commit.
func Run(ctx context.Context, db *sql.DB, fn func(ctx context.Context) error) error {
	if _, ok := From(ctx); ok {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("transaction aborted: %w", err)
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}

	sqlTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = sqlTx.Rollback()
	}()

	if err := fn(WithTx(ctx, sqlTx)); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
