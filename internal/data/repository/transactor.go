package repository

import (
	"context"

	"clinic-scheduling/pkg/database"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Transactor runs fn with a repository set bound to one transaction. All
// writes made through that set commit together when fn returns nil.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx *Repository) error) error
}

type poolTransactor struct {
	db   database.Beginner
	opts Options
	log  *zap.Logger
}

func (t *poolTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context, tx *Repository) error) error {
	return database.WithTx(ctx, t.db, t.opts.Tx, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, bind(tx, &savepointTransactor{tx: tx, opts: t.opts, log: t.log}, t.opts, t.log))
	})
}

// savepointTransactor nests inside an open transaction. A failing fn rolls
// back its own writes only.
type savepointTransactor struct {
	tx   pgx.Tx
	opts Options
	log  *zap.Logger
}

func (t *savepointTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context, tx *Repository) error) error {
	return database.WithSavepoint(ctx, t.tx, func(ctx context.Context, sp pgx.Tx) error {
		return fn(ctx, bind(sp, &savepointTransactor{tx: sp, opts: t.opts, log: t.log}, t.opts, t.log))
	})
}
