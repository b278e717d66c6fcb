package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// The open transaction travels in the context so exec and queryRow route
// through it; a nested withTx joins the outer transaction instead of opening
// a second one.
type txKey struct{}

func txFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey{}).(pgx.Tx)
	return tx
}

func withTx(ctx context.Context, pool *pgxpool.Pool, op func(txCtx context.Context) error) error {
	if txFromContext(ctx) != nil {
		return op(ctx)
	}

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin reservation tx: %w", err)
	}

	if err := op(context.WithValue(ctx, txKey{}, tx)); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit reservation tx: %w", err)
	}
	return nil
}

// isUniqueViolation matches the partial unique index on active slots.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// isInvalidUUID matches a reservation id that is not a UUID at all; callers
// treat it the same as a missing row.
func isInvalidUUID(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "22P02"
}
