package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DocumentTxOptions is used for document writes. Statements must observe rows committed while
// the transaction waited on a stock pair lock, which a repeatable-read snapshot would hide.
var DocumentTxOptions = pgx.TxOptions{IsoLevel: pgx.ReadCommitted}

// DBTX is satisfied by *pgxpool.Pool, *pgxpool.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Beginner starts transactions. *pgxpool.Pool implements it.
type Beginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

var _ Beginner = (*pgxpool.Pool)(nil)

// WithTx executes fn inside a transaction. Without explicit options the RepeatableRead
// isolation level is used.
func WithTx(ctx context.Context, pool Beginner, fn func(pgx.Tx) error, opts ...pgx.TxOptions) error {
	txOpts := pgx.TxOptions{IsoLevel: pgx.RepeatableRead}
	if len(opts) > 0 {
		txOpts = opts[0]
	}
	tx, err := pool.BeginTx(ctx, txOpts)
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}

	return nil
}
