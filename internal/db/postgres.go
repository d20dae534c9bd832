package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool is a pgxpool-backed Database. It is the "blocking mode" Connection
// Manager implementation: callers, the HTTP intake included, issue
// synchronous calls and rely on pgxpool's own internal connection reuse.
type Pool struct {
	pool *pgxpool.Pool
}

// OpenPool connects a new pgxpool.Pool to dsn and wraps it as a Database.
func OpenPool(ctx context.Context, dsn string) (*Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pool: %w", err)
	}
	return &Pool{pool: pool}, nil
}

func (p *Pool) Exec(ctx context.Context, sql string, args ...any) (Result, error) {
	tag, err := p.pool.Exec(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgResult{tag}, nil
}

func (p *Pool) QueryRow(ctx context.Context, sql string, args ...any) Row {
	return p.pool.QueryRow(ctx, sql, args...)
}

func (p *Pool) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgRows{rows}, nil
}

func (p *Pool) BeginTx(ctx context.Context, opts *TxOptions) (Tx, error) {
	txOpts := pgx.TxOptions{}
	if opts != nil {
		if opts.ReadOnly {
			txOpts.AccessMode = pgx.ReadOnly
		}
		switch opts.IsolationLevel {
		case "serializable":
			txOpts.IsoLevel = pgx.Serializable
		case "repeatable read":
			txOpts.IsoLevel = pgx.RepeatableRead
		case "read committed", "":
			txOpts.IsoLevel = pgx.ReadCommitted
		}
	}
	tx, err := p.pool.BeginTx(ctx, txOpts)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return pgTx{tx}, nil
}

func (p *Pool) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

func (p *Pool) Close() error { p.pool.Close(); return nil }

func (p *Pool) DriverName() string { return "postgres" }

type pgResult struct{ tag pgconn.CommandTag }

func (r pgResult) RowsAffected() int64 { return r.tag.RowsAffected() }

type pgRows struct{ rows pgx.Rows }

func (r pgRows) Next() bool         { return r.rows.Next() }
func (r pgRows) Scan(dest ...any) error { return r.rows.Scan(dest...) }
func (r pgRows) Err() error         { return r.rows.Err() }
func (r pgRows) Close()             { r.rows.Close() }

type pgTx struct{ tx pgx.Tx }

func (t pgTx) Exec(ctx context.Context, sql string, args ...any) (Result, error) {
	tag, err := t.tx.Exec(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgResult{tag}, nil
}

func (t pgTx) QueryRow(ctx context.Context, sql string, args ...any) Row {
	return t.tx.QueryRow(ctx, sql, args...)
}

func (t pgTx) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	rows, err := t.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgRows{rows}, nil
}

func (t pgTx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t pgTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }
