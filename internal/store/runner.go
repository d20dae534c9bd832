package store

import (
	"context"

	"github.com/avast/labmanager-unit-vsphere/internal/db"
)

// Runner executes fn inside one scoped transaction, handing it a fresh
// Repos bound to that transaction. Every worker/reaper/ticketing loop
// takes a Runner rather than a raw db.Database so tests can substitute
// an in-memory implementation (see storetest.Runner) without a live
// Postgres connection.
type Runner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, repos *Repos) error) error
}

// TxRunner is the production Runner, backed by a real db.Database.
type TxRunner struct {
	database db.Database
}

// NewTxRunner wraps database as a Runner.
func NewTxRunner(database db.Database) *TxRunner {
	return &TxRunner{database: database}
}

// WithTx implements Runner.
func (r *TxRunner) WithTx(ctx context.Context, fn func(ctx context.Context, repos *Repos) error) error {
	return db.WithTx(ctx, r.database, nil, func(ctx context.Context, tx db.Tx) error {
		return fn(ctx, NewRepos(tx))
	})
}
