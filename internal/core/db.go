package core

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the minimal query surface the services need. Both *pgxpool.Pool
// and pgx.Tx satisfy it, so multi-statement writes can run the same
// service code inside a transaction.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxBeginner is implemented by *pgxpool.Pool. Services type-assert their
// DB against it when a write must be atomic across statements.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// inTx runs fn inside a transaction when db supports one, and directly
// against db otherwise (the mock DB used in tests does not).
func inTx(ctx context.Context, db DB, fn func(q DB) error) error {
	b, ok := db.(TxBeginner)
	if !ok {
		return fn(db)
	}

	tx, err := b.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
