package store

import (
	"context"
	"time"

	"github.com/avast/labmanager-unit-vsphere/internal/db"
	"github.com/avast/labmanager-unit-vsphere/internal/domain"
)

// Machines is the typed repository for domain.Machine.
type Machines struct{ docs DocAdapter }

func NewMachines(exec db.Executor) *Machines { return NewMachinesWithAdapter(NewDocuments(exec)) }

// NewMachinesWithAdapter wires a Machines repository to an arbitrary DocAdapter (the
// pgx-backed Documents, or an in-memory fake in tests).
func NewMachinesWithAdapter(docs DocAdapter) *Machines { return &Machines{docs: docs} }

func newMachine() domain.Entity { return &domain.Machine{} }

// Save inserts or updates m, stamping ModifiedAt.
func (m *Machines) Save(ctx context.Context, machine *domain.Machine) error {
	machine.ModifiedAt = time.Now().UTC()
	return m.docs.Save(ctx, machine)
}

// Get returns one Machine by id.
func (m *Machines) Get(ctx context.Context, id int64) (*domain.Machine, error) {
	e, err := m.docs.GetOne(ctx, "machine", Filter{"_id": id}, newMachine)
	if err != nil {
		return nil, err
	}
	return e.(*domain.Machine), nil
}

// GetForUpdate loads a Machine with an exclusive row lock.
func (m *Machines) GetForUpdate(ctx context.Context, id int64) (*domain.Machine, error) {
	e, err := m.docs.GetOneForUpdate(ctx, "machine", Filter{"_id": id}, newMachine)
	if err != nil {
		return nil, err
	}
	return e.(*domain.Machine), nil
}

// ListByOwner returns every Machine owned by owner. An empty owner lists
// every Machine, the admin view.
func (m *Machines) ListByOwner(ctx context.Context, owner string) ([]*domain.Machine, error) {
	filter := Filter{}
	if owner != "" {
		filter["owner"] = owner
	}
	entities, err := m.docs.Get(ctx, "machine", filter, newMachine)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Machine, len(entities))
	for i, e := range entities {
		out[i] = e.(*domain.Machine)
	}
	return out, nil
}
