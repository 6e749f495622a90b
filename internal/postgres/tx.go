package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

// DBTX is the query surface shared by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Beginner interface {
	DBTX
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

type txKey struct{}

func WithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

func TxFrom(ctx context.Context) (pgx.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(pgx.Tx)
	return tx, ok
}

// Conn returns the transaction carried by ctx, falling back to db.
func Conn(ctx context.Context, db DBTX) DBTX {
	if tx, ok := TxFrom(ctx); ok {
		return tx
	}
	return db
}

// InTx runs fn inside a READ COMMITTED transaction and commits when fn returns
// nil. Any error, panic or cancellation rolls everything back. If ctx already
// carries a transaction, fn joins it and the outer caller owns the commit.
func InTx(ctx context.Context, db Beginner, fn func(ctx context.Context) error) error {
	if _, ok := TxFrom(ctx); ok {
		return fn(ctx)
	}

	tx, err := db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	// no-op once committed
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	if err := fn(WithTx(ctx, tx)); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(ctx), "commit tx")
}
