package store

import (
	"context"
	"time"

	"github.com/avast/labmanager-unit-vsphere/internal/db"
	"github.com/avast/labmanager-unit-vsphere/internal/domain"
)

// Actions is the typed repository for domain.Action, including the claim
// queries Deploy Worker, Ops Worker, and the Delayed Reaper poll.
type Actions struct{ docs DocAdapter }

func NewActions(exec db.Executor) *Actions { return NewActionsWithAdapter(NewDocuments(exec)) }

// NewActionsWithAdapter wires a Actions repository to an arbitrary DocAdapter (the
// pgx-backed Documents, or an in-memory fake in tests).
func NewActionsWithAdapter(docs DocAdapter) *Actions { return &Actions{docs: docs} }

func newAction() domain.Entity { return &domain.Action{} }

// Save inserts or updates a, stamping ModifiedAt.
func (a *Actions) Save(ctx context.Context, action *domain.Action) error {
	action.ModifiedAt = time.Now().UTC()
	return a.docs.Save(ctx, action)
}

// ClaimFree locks and returns the lowest-id free Action of actionType, or
// nil if none are free right now. This is the exclusive-claim primitive:
// at most one caller can observe a given row as free (enforced by
// FOR UPDATE SKIP LOCKED), satisfying the "at most one worker claims it"
// invariant.
func (a *Actions) ClaimFree(ctx context.Context, actionType domain.ActionType) (*domain.Action, error) {
	e, err := a.docs.GetOneForUpdateSkipLocked(ctx, "action", Filter{
		"type": actionType,
		"lock": int(domain.LockFree),
	}, newAction)
	if err != nil || e == nil {
		return nil, err
	}
	return e.(*domain.Action), nil
}

// CountFree returns how many Actions of actionType are currently free
// (unclaimed), the queue depth a claim loop would see on its next poll.
func (a *Actions) CountFree(ctx context.Context, actionType domain.ActionType) (int, error) {
	es, err := a.docs.Get(ctx, "action", Filter{
		"type": actionType,
		"lock": int(domain.LockFree),
	}, newAction)
	if err != nil {
		return 0, err
	}
	return len(es), nil
}

// ClaimSleeping locks and returns the lowest-id sleeping Action, the
// query the Delayed Reaper polls with every cycle.
func (a *Actions) ClaimSleeping(ctx context.Context) (*domain.Action, error) {
	e, err := a.docs.GetOneForUpdateSkipLocked(ctx, "action", Filter{
		"lock": int(domain.LockSleeping),
	}, newAction)
	if err != nil || e == nil {
		return nil, err
	}
	return e.(*domain.Action), nil
}
