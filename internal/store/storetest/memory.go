// Package storetest provides an in-memory store.DocAdapter for tests
// that exercise worker/reaper/ticketing/hostinfo logic without a live
// Postgres connection. It interprets the same Filter semantics as the
// pgx-backed adapter (equality against a JSON-projected field, "_id"
// against the primary key) but is deliberately coarse-grained: one mutex
// guards the whole store, and "FOR UPDATE SKIP LOCKED" is modeled as a
// per-row claim flag cleared by Save or Unlock, not a real transaction.
// That's sufficient to exercise the claim-then-release call patterns
// every loop in this codebase follows; it does not model crash recovery
// or isolation levels.
package storetest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/avast/labmanager-unit-vsphere/internal/domain"
	"github.com/avast/labmanager-unit-vsphere/internal/store"
)

type row struct {
	id      int64
	typeTag string
	data    map[string]any
	locked  bool
}

// MemoryAdapter is a store.DocAdapter backed by an in-process map.
type MemoryAdapter struct {
	mu     sync.Mutex
	nextID int64
	rows   map[string]*row // keyed by "type:id"
}

// New returns an empty MemoryAdapter.
func New() *MemoryAdapter {
	return &MemoryAdapter{rows: make(map[string]*row)}
}

func key(docType string, id int64) string { return fmt.Sprintf("%s:%d", docType, id) }

func (m *MemoryAdapter) Save(ctx context.Context, e domain.Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", e.DocumentType(), err)
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("unmarshal %s: %w", e.DocumentType(), err)
	}

	if e.GetID() == 0 {
		m.nextID++
		e.SetID(m.nextID)
		data["id"] = m.nextID
	}
	k := key(e.DocumentType(), e.GetID())
	if existing, ok := m.rows[k]; ok {
		existing.data = data
		existing.locked = false
	} else {
		m.rows[k] = &row{id: e.GetID(), typeTag: e.DocumentType(), data: data}
	}
	return nil
}

func (m *MemoryAdapter) Get(ctx context.Context, docType string, filter store.Filter, newEntity func() domain.Entity) ([]domain.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matches []*row
	for _, r := range m.rows {
		if m.matchesLocked(docType, r, filter) {
			matches = append(matches, r)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].id < matches[j].id })

	out := make([]domain.Entity, 0, len(matches))
	for _, r := range matches {
		e, err := decode(r, newEntity)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *MemoryAdapter) GetOne(ctx context.Context, docType string, filter store.Filter, newEntity func() domain.Entity) (domain.Entity, error) {
	return m.getOne(docType, filter, newEntity, false)
}

func (m *MemoryAdapter) GetOneForUpdate(ctx context.Context, docType string, filter store.Filter, newEntity func() domain.Entity) (domain.Entity, error) {
	return m.getOne(docType, filter, newEntity, true)
}

func (m *MemoryAdapter) GetOneForUpdateSkipLocked(ctx context.Context, docType string, filter store.Filter, newEntity func() domain.Entity) (domain.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matches []*row
	for _, r := range m.rows {
		if r.locked {
			continue
		}
		if m.matchesLocked(docType, r, filter) {
			matches = append(matches, r)
		}
	}
	if len(matches) == 0 {
		return nil, nil
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].id < matches[j].id })
	chosen := matches[0]
	chosen.locked = true
	return decode(chosen, newEntity)
}

func (m *MemoryAdapter) Delete(ctx context.Context, docType string, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(docType, id)
	if _, ok := m.rows[k]; !ok {
		return store.ErrNotFound
	}
	delete(m.rows, k)
	return nil
}

// Unlock releases a claim acquired by GetOneForUpdate(SkipLocked), the
// fake's stand-in for a transaction rollback/commit that didn't call
// Save. Production code always reaches Save or explicitly re-arms, so
// tests only need this when exercising a claim that's abandoned.
func (m *MemoryAdapter) Unlock(docType string, id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rows[key(docType, id)]; ok {
		r.locked = false
	}
}

func (m *MemoryAdapter) getOne(docType string, filter store.Filter, newEntity func() domain.Entity, lock bool) (domain.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matches []*row
	for _, r := range m.rows {
		if m.matchesLocked(docType, r, filter) {
			matches = append(matches, r)
		}
	}
	if len(matches) == 0 {
		return nil, store.ErrNotFound
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].id < matches[j].id })
	chosen := matches[0]
	if lock {
		chosen.locked = true
	}
	return decode(chosen, newEntity)
}

func (m *MemoryAdapter) matchesLocked(docType string, r *row, filter store.Filter) bool {
	if r.typeTag != docType {
		return false
	}
	for k, v := range filter {
		if k == "_id" {
			if fmt.Sprintf("%v", r.id) != fmt.Sprintf("%v", v) {
				return false
			}
			continue
		}
		actual, ok := r.data[k]
		if !ok {
			return false
		}
		if fmt.Sprintf("%v", actual) != fmt.Sprintf("%v", v) {
			return false
		}
	}
	return true
}

func decode(r *row, newEntity func() domain.Entity) (domain.Entity, error) {
	raw, err := json.Marshal(r.data)
	if err != nil {
		return nil, fmt.Errorf("re-marshal row %d: %w", r.id, err)
	}
	e := newEntity()
	if err := json.Unmarshal(raw, e); err != nil {
		return nil, fmt.Errorf("unmarshal row %d: %w", r.id, err)
	}
	e.SetID(r.id)
	return e, nil
}
