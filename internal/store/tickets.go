package store

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/labmanager-unit-vsphere/internal/db"
	"github.com/avast/labmanager-unit-vsphere/internal/domain"
)

// Tickets is the typed repository for domain.DeployTicket, including the
// queries the Ticket Scheduler uses to rebalance and the Deploy Worker
// uses to acquire a slot.
type Tickets struct{ docs DocAdapter }

func NewTickets(exec db.Executor) *Tickets { return NewTicketsWithAdapter(NewDocuments(exec)) }

// NewTicketsWithAdapter wires a Tickets repository to an arbitrary DocAdapter (the
// pgx-backed Documents, or an in-memory fake in tests).
func NewTicketsWithAdapter(docs DocAdapter) *Tickets { return &Tickets{docs: docs} }

func newTicket() domain.Entity { return &domain.DeployTicket{} }

// Save inserts or updates t, stamping ModifiedAt.
func (t *Tickets) Save(ctx context.Context, ticket *domain.DeployTicket) error {
	ticket.ModifiedAt = time.Now().UTC()
	return t.docs.Save(ctx, ticket)
}

// AcquireAvailable locks and returns the lowest-id ticket with
// enabled=true, taken=0 — the deploy worker's ticket-acquire call. Ticket
// ids are monotonically increasing, so this is the deterministic FIFO
// tie-break among contending deploy workers.
func (t *Tickets) AcquireAvailable(ctx context.Context) (*domain.DeployTicket, error) {
	e, err := t.docs.GetOneForUpdateSkipLocked(ctx, "deploy_ticket", Filter{
		"taken":   0,
		"enabled": true,
	}, newTicket)
	if err != nil || e == nil {
		return nil, err
	}
	return e.(*domain.DeployTicket), nil
}

// GetForUpdate loads a ticket with an exclusive row lock, used to bind or
// release it after a deploy attempt.
func (t *Tickets) GetForUpdate(ctx context.Context, id int64) (*domain.DeployTicket, error) {
	e, err := t.docs.GetOneForUpdate(ctx, "deploy_ticket", Filter{"_id": id}, newTicket)
	if err != nil {
		return nil, fmt.Errorf("get ticket %d for update: %w", id, err)
	}
	return e.(*domain.DeployTicket), nil
}

// GetByVMMoref finds the ticket currently bound to a VM, used to release
// it on undeploy/stop.
func (t *Tickets) GetByVMMoref(ctx context.Context, vmMoref string) (*domain.DeployTicket, error) {
	e, err := t.docs.GetOneForUpdate(ctx, "deploy_ticket", Filter{"assigned_vm_moref": vmMoref}, newTicket)
	if err != nil {
		if err == ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return e.(*domain.DeployTicket), nil
}

// All returns every non-deleted ticket ordered by id, for the scheduler's
// per-revolution bookkeeping.
func (t *Tickets) All(ctx context.Context) ([]*domain.DeployTicket, error) {
	entities, err := t.docs.Get(ctx, "deploy_ticket", Filter{}, newTicket)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.DeployTicket, len(entities))
	for i, e := range entities {
		out[i] = e.(*domain.DeployTicket)
	}
	return out, nil
}

// Delete removes a ticket by id, used by the scheduler's bounded cleanup
// of old disabled tickets.
func (t *Tickets) Delete(ctx context.Context, id int64) error {
	return t.docs.Delete(ctx, "deploy_ticket", id)
}
