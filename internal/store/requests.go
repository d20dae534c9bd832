package store

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/labmanager-unit-vsphere/internal/db"
	"github.com/avast/labmanager-unit-vsphere/internal/domain"
)

// Requests is the typed repository for domain.Request.
type Requests struct{ docs DocAdapter }

func NewRequests(exec db.Executor) *Requests { return NewRequestsWithAdapter(NewDocuments(exec)) }

// NewRequestsWithAdapter wires a Requests repository to an arbitrary DocAdapter (the
// pgx-backed Documents, or an in-memory fake in tests).
func NewRequestsWithAdapter(docs DocAdapter) *Requests { return &Requests{docs: docs} }

func newRequest() domain.Entity { return &domain.Request{} }

// Save inserts or updates r, stamping ModifiedAt.
func (r *Requests) Save(ctx context.Context, req *domain.Request) error {
	req.ModifiedAt = time.Now().UTC()
	return r.docs.Save(ctx, req)
}

// Get returns one Request by id.
func (r *Requests) Get(ctx context.Context, id int64) (*domain.Request, error) {
	e, err := r.docs.GetOne(ctx, "request", Filter{"_id": id}, newRequest)
	if err != nil {
		return nil, err
	}
	return e.(*domain.Request), nil
}

// GetForUpdate loads a Request with an exclusive row lock, the form
// workers use before mutating its state.
func (r *Requests) GetForUpdate(ctx context.Context, id int64) (*domain.Request, error) {
	e, err := r.docs.GetOneForUpdate(ctx, "request", Filter{"_id": id}, newRequest)
	if err != nil {
		return nil, fmt.Errorf("get request %d for update: %w", id, err)
	}
	return e.(*domain.Request), nil
}

// ListByMachine returns every Request referencing a Machine, in id order.
func (r *Requests) ListByMachine(ctx context.Context, machineID int64) ([]*domain.Request, error) {
	entities, err := r.docs.Get(ctx, "request", Filter{"machine": machineID}, newRequest)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Request, len(entities))
	for i, e := range entities {
		out[i] = e.(*domain.Request)
	}
	return out, nil
}
