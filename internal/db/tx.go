package db

import (
	"context"
	"errors"
)

// WithTx runs fn inside a scoped transaction: BEGIN on entry, COMMIT if fn
// returns nil, ROLLBACK otherwise (including panics, which are re-raised
// after rollback). This is the Go equivalent of the context-manager
// pattern the Connection Manager contract describes — every DB touch in
// this codebase goes through it rather than managing Tx lifetimes by hand.
func WithTx(ctx context.Context, database Database, opts *TxOptions, fn func(ctx context.Context, tx Tx) error) (err error) {
	tx, err := database.BeginTx(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err = fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}
	return tx.Commit(ctx)
}
