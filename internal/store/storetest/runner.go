package storetest

import (
	"context"

	"github.com/avast/labmanager-unit-vsphere/internal/store"
)

// Runner is a store.Runner backed by a single in-memory MemoryAdapter
// shared across every call, so worker/reaper/ticketing tests can run
// the exact sequence of Runner.WithTx calls production code issues
// without a live Postgres connection.
type Runner struct {
	adapter *MemoryAdapter
}

// NewRunner returns a Runner over a fresh, empty MemoryAdapter.
func NewRunner() *Runner {
	return &Runner{adapter: New()}
}

// Adapter exposes the underlying MemoryAdapter for test setup/assertions.
func (r *Runner) Adapter() *MemoryAdapter { return r.adapter }

// WithTx implements store.Runner. MemoryAdapter already serializes every
// operation under one mutex, so this does not model rollback-on-error;
// it exists to let tests drive the same call shape as production.
func (r *Runner) WithTx(ctx context.Context, fn func(ctx context.Context, repos *store.Repos) error) error {
	repos := store.NewReposWithAdapter(r.adapter)
	return fn(ctx, repos)
}
