package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Querier is satisfied by *pgxpool.Pool, *pgxpool.Conn and pgx.Tx.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Beginner is satisfied by *pgxpool.Pool.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// BoundTx begins a transaction whose lock waits and statements are capped by
// timeout. Use the returned context for every statement in the transaction and
// call cancel once it has been committed or rolled back.
func BoundTx(ctx context.Context, b Beginner, timeout time.Duration) (context.Context, pgx.Tx, context.CancelFunc, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	tx, err := b.Begin(ctx)
	if err != nil {
		cancel()
		return nil, nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	ms := timeout.Milliseconds()
	for _, stmt := range []string{
		fmt.Sprintf("SET LOCAL lock_timeout = %d", ms),
		fmt.Sprintf("SET LOCAL statement_timeout = %d", ms),
	} {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			_ = tx.Rollback(ctx)
			cancel()
			return nil, nil, nil, fmt.Errorf("failed to bound transaction: %w", err)
		}
	}
	return ctx, tx, cancel, nil
}
