package store

import (
	"context"
	"fmt"

	"github.com/avast/labmanager-unit-vsphere/internal/db"
)

// Store bundles the Document Store Adapter with per-entity convenience
// repositories. It holds a db.Database (not a Tx) for callers outside a
// scoped transaction; entity methods that need row locks accept a
// db.Executor directly so callers can pass a Tx obtained from db.WithTx.
type Store struct {
	Database db.Database
}

// NewStore wraps an already-open db.Database.
func NewStore(database db.Database) *Store {
	return &Store{Database: database}
}

// ensureSchemaStatements is the one-table schema this adapter requires.
// No migration framework: these run idempotently on daemon startup, the
// same "in-process CREATE TABLE IF NOT EXISTS" idiom used elsewhere in
// this stack for bootstrap simplicity.
var ensureSchemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS documents (
		id BIGSERIAL PRIMARY KEY,
		type TEXT NOT NULL,
		data JSONB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS documents_type_idx ON documents (type)`,
	`CREATE INDEX IF NOT EXISTS documents_type_lock_idx ON documents (type, (data->>'lock'))`,
	`CREATE INDEX IF NOT EXISTS documents_type_taken_enabled_idx ON documents (type, (data->>'taken'), (data->>'enabled'))`,
}

// EnsureSchema creates the documents table and its supporting indexes if
// they do not already exist.
func EnsureSchema(ctx context.Context, database db.Database) error {
	for _, stmt := range ensureSchemaStatements {
		if _, err := database.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Open connects to dsn, verifies connectivity, and ensures the schema
// exists, returning a ready-to-use Store.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := db.OpenPool(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return NewStore(pool), nil
}
