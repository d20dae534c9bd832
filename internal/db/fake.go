package db

import (
	"context"
	"fmt"
)

// FakeDatabase is a tiny in-memory Database used by package tests that
// need a Database/Executor/Tx without a live Postgres connection. It does
// not execute SQL — callers that need SQL semantics use the store-level
// fakes in internal/store instead; this exists purely to exercise the
// transaction-lifecycle contract (WithTx, commit/rollback ordering).
type FakeDatabase struct {
	Closed bool
}

func NewFakeDatabase() *FakeDatabase { return &FakeDatabase{} }

func (f *FakeDatabase) Exec(ctx context.Context, sql string, args ...any) (Result, error) {
	return fakeResult{}, nil
}

func (f *FakeDatabase) QueryRow(ctx context.Context, sql string, args ...any) Row {
	return fakeRow{err: fmt.Errorf("fake database: no rows")}
}

func (f *FakeDatabase) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	return fakeRows{}, nil
}

func (f *FakeDatabase) BeginTx(ctx context.Context, opts *TxOptions) (Tx, error) {
	return &fakeTx{db: f}, nil
}

func (f *FakeDatabase) Ping(ctx context.Context) error { return nil }

func (f *FakeDatabase) Close() error { f.Closed = true; return nil }

func (f *FakeDatabase) DriverName() string { return "fake" }

type fakeResult struct{}

func (fakeResult) RowsAffected() int64 { return 0 }

type fakeRow struct{ err error }

func (r fakeRow) Scan(dest ...any) error { return r.err }

type fakeRows struct{}

func (fakeRows) Next() bool         { return false }
func (fakeRows) Scan(dest ...any) error { return fmt.Errorf("fake rows: empty") }
func (fakeRows) Err() error         { return nil }
func (fakeRows) Close()             {}

type fakeTx struct {
	db        *FakeDatabase
	committed bool
	rolled    bool
}

func (t *fakeTx) Exec(ctx context.Context, sql string, args ...any) (Result, error) {
	return fakeResult{}, nil
}

func (t *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) Row {
	return fakeRow{err: fmt.Errorf("fake tx: no rows")}
}

func (t *fakeTx) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	return fakeRows{}, nil
}

func (t *fakeTx) Commit(ctx context.Context) error {
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	t.rolled = true
	return nil
}
