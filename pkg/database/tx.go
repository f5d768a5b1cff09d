package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Beginner opens transactions. Satisfied by the pool and by pgx.Tx (savepoints).
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// TxOptions bounds a transaction: LockTimeout caps each wait for a row lock,
// Timeout caps the whole transaction including commit.
type TxOptions struct {
	LockTimeout time.Duration
	Timeout     time.Duration
}

// WithTx runs fn in a transaction. The transaction commits when fn returns nil
// and rolls back otherwise; timeouts and serialization failures come back
// classified (see Classify).
func WithTx(ctx context.Context, db Beginner, opts TxOptions, fn func(ctx context.Context, tx pgx.Tx) error) (err error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	tx, err := db.Begin(ctx)
	if err != nil {
		return Classify(fmt.Errorf("begin tx: %w", err))
	}

	defer func() {
		if err != nil {
			// the request context may already be done
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	if err = applyTimeouts(ctx, tx, opts); err != nil {
		return Classify(fmt.Errorf("set tx timeouts: %w", err))
	}

	if err = fn(ctx, tx); err != nil {
		return Classify(err)
	}

	if err = tx.Commit(ctx); err != nil {
		return Classify(fmt.Errorf("commit tx: %w", err))
	}

	return nil
}

// WithSavepoint runs fn inside a savepoint of tx. A failure rolls back only the
// savepoint, leaving the outer transaction usable.
func WithSavepoint(ctx context.Context, tx pgx.Tx, fn func(ctx context.Context, sp pgx.Tx) error) (err error) {
	sp, err := tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin savepoint: %w", err)
	}

	defer func() {
		if err != nil {
			_ = sp.Rollback(context.WithoutCancel(ctx))
		}
	}()

	if err = fn(ctx, sp); err != nil {
		return err
	}

	if err = sp.Commit(ctx); err != nil {
		return fmt.Errorf("release savepoint: %w", err)
	}

	return nil
}

func applyTimeouts(ctx context.Context, tx pgx.Tx, opts TxOptions) error {
	if opts.LockTimeout <= 0 && opts.Timeout <= 0 {
		return nil
	}

	_, err := tx.Exec(ctx,
		`SELECT set_config('lock_timeout', $1, true), set_config('statement_timeout', $2, true)`,
		millis(opts.LockTimeout),
		millis(opts.Timeout),
	)
	return err
}

func millis(d time.Duration) string {
	return fmt.Sprintf("%dms", d.Milliseconds())
}
