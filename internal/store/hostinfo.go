package store

import (
	"context"
	"time"

	"github.com/avast/labmanager-unit-vsphere/internal/db"
	"github.com/avast/labmanager-unit-vsphere/internal/domain"
)

// HostInfos is the typed repository for domain.HostRuntimeInfo.
type HostInfos struct{ docs DocAdapter }

func NewHostInfos(exec db.Executor) *HostInfos { return NewHostInfosWithAdapter(NewDocuments(exec)) }

// NewHostInfosWithAdapter wires a HostInfos repository to an arbitrary DocAdapter (the
// pgx-backed Documents, or an in-memory fake in tests).
func NewHostInfosWithAdapter(docs DocAdapter) *HostInfos { return &HostInfos{docs: docs} }

func newHostInfo() domain.Entity { return &domain.HostRuntimeInfo{} }

// Save inserts or updates h, stamping ModifiedAt.
func (h *HostInfos) Save(ctx context.Context, host *domain.HostRuntimeInfo) error {
	host.ModifiedAt = time.Now().UTC()
	return h.docs.Save(ctx, host)
}

// GetByNameForUpdate loads a host by name with an exclusive row lock, or
// ErrNotFound if it hasn't been seen before — the Obtainer's upsert-by-
// name lookup.
func (h *HostInfos) GetByNameForUpdate(ctx context.Context, name string) (*domain.HostRuntimeInfo, error) {
	e, err := h.docs.GetOneForUpdate(ctx, "host_runtime_info", Filter{"name": name}, newHostInfo)
	if err != nil {
		return nil, err
	}
	return e.(*domain.HostRuntimeInfo), nil
}

// Get returns one host by id.
func (h *HostInfos) Get(ctx context.Context, id int64) (*domain.HostRuntimeInfo, error) {
	e, err := h.docs.GetOne(ctx, "host_runtime_info", Filter{"_id": id}, newHostInfo)
	if err != nil {
		return nil, err
	}
	return e.(*domain.HostRuntimeInfo), nil
}

// GetForUpdate loads a host by id with an exclusive row lock, the form
// the maintenance-toggle endpoint uses before mutating it.
func (h *HostInfos) GetForUpdate(ctx context.Context, id int64) (*domain.HostRuntimeInfo, error) {
	e, err := h.docs.GetOneForUpdate(ctx, "host_runtime_info", Filter{"_id": id}, newHostInfo)
	if err != nil {
		return nil, err
	}
	return e.(*domain.HostRuntimeInfo), nil
}

// All returns every known host, the Ticket Scheduler's H set.
func (h *HostInfos) All(ctx context.Context) ([]*domain.HostRuntimeInfo, error) {
	entities, err := h.docs.Get(ctx, "host_runtime_info", Filter{}, newHostInfo)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.HostRuntimeInfo, len(entities))
	for i, e := range entities {
		out[i] = e.(*domain.HostRuntimeInfo)
	}
	return out, nil
}

// Delete removes a host by id, used when the Obtainer observes a host no
// longer present in the configured folder.
func (h *HostInfos) Delete(ctx context.Context, id int64) error {
	return h.docs.Delete(ctx, "host_runtime_info", id)
}
