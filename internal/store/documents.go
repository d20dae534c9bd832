// Package store implements the Document Store Adapter: generic
// persistence of typed documents in one `documents(id, type, data)`
// table, with claim queries built on `FOR UPDATE SKIP LOCKED`. Claims and
// writes run inside a scoped transaction (internal/db.WithTx); commit
// happens on scope exit without error, rollback otherwise. A Documents
// adapter over a bare Database runs its queries outside a transaction.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/avast/labmanager-unit-vsphere/internal/db"
	"github.com/avast/labmanager-unit-vsphere/internal/domain"
)

// ErrNotFound is returned when a get_one / get_one_for_update style
// lookup matches no row.
var ErrNotFound = errors.New("store: document not found")

// Filter is an equality-predicate map translated to `data->>k = v`
// clauses plus a `type = <entity>` predicate. The special key "_id" maps
// to the primary `id` column instead of a JSON field.
type Filter map[string]any

// DocAdapter is the Document Store Adapter contract: save/get/get_one/
// get_one_for_update/get_one_for_update_skip_locked/delete. *Documents is
// the pgx-backed implementation; package store/storetest provides an
// in-memory one for tests that don't need a live Postgres connection.
type DocAdapter interface {
	Save(ctx context.Context, e domain.Entity) error
	Get(ctx context.Context, docType string, filter Filter, newEntity func() domain.Entity) ([]domain.Entity, error)
	GetOne(ctx context.Context, docType string, filter Filter, newEntity func() domain.Entity) (domain.Entity, error)
	GetOneForUpdate(ctx context.Context, docType string, filter Filter, newEntity func() domain.Entity) (domain.Entity, error)
	GetOneForUpdateSkipLocked(ctx context.Context, docType string, filter Filter, newEntity func() domain.Entity) (domain.Entity, error)
	Delete(ctx context.Context, docType string, id int64) error
}

// Documents is the Document Store Adapter. It is parameterized by the
// underlying db.Executor (a bare Database outside a transaction, or a Tx
// within one) so the same queries serve both plain reads and row-locked
// claims under internal/db.WithTx.
type Documents struct {
	exec db.Executor
}

// NewDocuments wraps an Executor (Database or Tx) as a Documents adapter.
func NewDocuments(exec db.Executor) *Documents {
	return &Documents{exec: exec}
}

// Save inserts a new document if GetID()==0, else updates the existing
// row. ModifiedAt is the caller's responsibility to stamp before saving,
// matching the entity-level "auto-stamped on save" contract described for
// the Entity Model; the typed repositories' Save methods stamp it.
func (d *Documents) Save(ctx context.Context, e domain.Entity) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", e.DocumentType(), err)
	}

	if e.GetID() == 0 {
		row := d.exec.QueryRow(ctx,
			`INSERT INTO documents (type, data) VALUES ($1, $2) RETURNING id`,
			e.DocumentType(), data)
		var id int64
		if err := row.Scan(&id); err != nil {
			return fmt.Errorf("insert %s: %w", e.DocumentType(), err)
		}
		e.SetID(id)
		return nil
	}

	result, err := d.exec.Exec(ctx,
		`UPDATE documents SET data = $1 WHERE id = $2 AND type = $3`,
		data, e.GetID(), e.DocumentType())
	if err != nil {
		return fmt.Errorf("update %s %d: %w", e.DocumentType(), e.GetID(), err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("update %s %d: %w", e.DocumentType(), e.GetID(), ErrNotFound)
	}
	return nil
}

// Get returns every document of docType matching filter, decoded into
// entities produced by newEntity.
func (d *Documents) Get(ctx context.Context, docType string, filter Filter, newEntity func() domain.Entity) ([]domain.Entity, error) {
	clause, args := whereClause(docType, filter)
	rows, err := d.exec.Query(ctx,
		fmt.Sprintf(`SELECT id, data FROM documents WHERE %s ORDER BY id ASC`, clause), args...)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", docType, err)
	}
	defer rows.Close()

	var out []domain.Entity
	for rows.Next() {
		e, err := scanEntity(rows, newEntity)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetOne returns the first document matching filter, or ErrNotFound.
func (d *Documents) GetOne(ctx context.Context, docType string, filter Filter, newEntity func() domain.Entity) (domain.Entity, error) {
	clause, args := whereClause(docType, filter)
	row := d.exec.QueryRow(ctx,
		fmt.Sprintf(`SELECT id, data FROM documents WHERE %s ORDER BY id ASC LIMIT 1`, clause), args...)
	return scanEntityRow(row, newEntity)
}

// GetOneForUpdate returns the first matching document with an exclusive
// row lock, waiting for contended rows rather than skipping them. Callers
// must be inside a transaction (exec must be a db.Tx) for the lock to
// hold past this call.
func (d *Documents) GetOneForUpdate(ctx context.Context, docType string, filter Filter, newEntity func() domain.Entity) (domain.Entity, error) {
	clause, args := whereClause(docType, filter)
	row := d.exec.QueryRow(ctx,
		fmt.Sprintf(`SELECT id, data FROM documents WHERE %s ORDER BY id ASC LIMIT 1 FOR UPDATE`, clause), args...)
	return scanEntityRow(row, newEntity)
}

// GetOneForUpdateSkipLocked is the claim primitive every worker loop and
// the Reaper use: it locks and returns the lowest-id matching row that no
// other transaction currently holds, or (nil, nil) when every candidate
// is contended or none exist — "no work", not an error.
func (d *Documents) GetOneForUpdateSkipLocked(ctx context.Context, docType string, filter Filter, newEntity func() domain.Entity) (domain.Entity, error) {
	clause, args := whereClause(docType, filter)
	row := d.exec.QueryRow(ctx,
		fmt.Sprintf(`SELECT id, data FROM documents WHERE %s ORDER BY id ASC LIMIT 1 FOR UPDATE SKIP LOCKED`, clause), args...)
	e, err := scanEntityRow(row, newEntity)
	if errors.Is(err, ErrNotFound) || errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

// Delete removes one document by id.
func (d *Documents) Delete(ctx context.Context, docType string, id int64) error {
	result, err := d.exec.Exec(ctx, `DELETE FROM documents WHERE id = $1 AND type = $2`, id, docType)
	if err != nil {
		return fmt.Errorf("delete %s %d: %w", docType, id, err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// whereClause translates a Filter into a `type = $1 AND data->>k = $n`
// predicate list. "_id" addresses the primary key column directly.
func whereClause(docType string, filter Filter) (string, []any) {
	clause := "type = $1"
	args := []any{docType}
	i := 2
	for k, v := range filter {
		if k == "_id" {
			clause += fmt.Sprintf(" AND id = $%d", i)
		} else {
			clause += fmt.Sprintf(" AND data->>'%s' = $%d", k, i)
		}
		args = append(args, fmt.Sprintf("%v", v))
		i++
	}
	return clause, args
}

func scanEntity(rows db.Rows, newEntity func() domain.Entity) (domain.Entity, error) {
	var id int64
	var data []byte
	if err := rows.Scan(&id, &data); err != nil {
		return nil, fmt.Errorf("scan document: %w", err)
	}
	e := newEntity()
	if err := json.Unmarshal(data, e); err != nil {
		return nil, fmt.Errorf("unmarshal document %d: %w", id, err)
	}
	e.SetID(id)
	return e, nil
}

func scanEntityRow(row db.Row, newEntity func() domain.Entity) (domain.Entity, error) {
	var id int64
	var data []byte
	if err := row.Scan(&id, &data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}
	e := newEntity()
	if err := json.Unmarshal(data, e); err != nil {
		return nil, fmt.Errorf("unmarshal document %d: %w", id, err)
	}
	e.SetID(id)
	return e, nil
}

// timestampLayout is the fixed textual format entity timestamps
// round-trip through, matching the document adapter's serialization
// contract for time fields.
const timestampLayout = "2006-01-02 15:04:05"

// FormatTimestamp renders t in the fixed round-trip layout.
func FormatTimestamp(t time.Time) string { return t.UTC().Format(timestampLayout) }
