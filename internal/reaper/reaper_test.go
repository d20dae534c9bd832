package reaper

import (
	"context"
	"testing"
	"time"

	"github.com/avast/labmanager-unit-vsphere/internal/domain"
	"github.com/avast/labmanager-unit-vsphere/internal/store"
	"github.com/avast/labmanager-unit-vsphere/internal/store/storetest"
)

func seedSleepingAction(t *testing.T, runner *storetest.Runner, nextTry time.Time, repetitions int) (actionID, requestID int64) {
	t.Helper()
	ctx := context.Background()
	machine := &domain.Machine{State: domain.MachineRunning}
	if err := runner.Adapter().Save(ctx, machine); err != nil {
		t.Fatalf("seed machine: %v", err)
	}
	req := &domain.Request{Type: domain.RequestGetInfo, State: domain.RequestDelayed, Machine: machine.GetID()}
	if err := runner.Adapter().Save(ctx, req); err != nil {
		t.Fatalf("seed request: %v", err)
	}
	action := &domain.Action{Type: domain.ActionOther, Request: req.GetID(), Lock: domain.LockSleeping, Repetitions: repetitions, NextTry: nextTry}
	if err := runner.Adapter().Save(ctx, action); err != nil {
		t.Fatalf("seed action: %v", err)
	}
	return action.GetID(), req.GetID()
}

func TestReaperRearmsActionWithBudgetRemaining(t *testing.T) {
	runner := storetest.NewRunner()
	actionID, _ := seedSleepingAction(t, runner, time.Now().Add(-time.Second), 2)
	r := &Reaper{Runner: runner, Sleep: time.Millisecond}

	handled, err := r.reapOne(context.Background())
	if err != nil {
		t.Fatalf("reapOne: %v", err)
	}
	if !handled {
		t.Fatal("expected a due action to be handled")
	}

	ctx := context.Background()
	entities, err := runner.Adapter().Get(ctx, "action", store.Filter{"_id": actionID}, func() domain.Entity { return &domain.Action{} })
	if err != nil || len(entities) != 1 {
		t.Fatalf("load action: %v", err)
	}
	action := entities[0].(*domain.Action)
	if action.Lock != domain.LockFree {
		t.Errorf("action.Lock = %v, want LockFree", action.Lock)
	}
	if !action.NextTry.Equal(domain.FarFutureSentinel()) {
		t.Errorf("action.NextTry = %v, want sentinel", action.NextTry)
	}
}

func TestReaperTimesOutExpiredAction(t *testing.T) {
	runner := storetest.NewRunner()
	actionID, requestID := seedSleepingAction(t, runner, time.Now().Add(-time.Second), 0)
	r := &Reaper{Runner: runner, Sleep: time.Millisecond}

	handled, err := r.reapOne(context.Background())
	if err != nil {
		t.Fatalf("reapOne: %v", err)
	}
	if !handled {
		t.Fatal("expected a due action to be handled")
	}

	ctx := context.Background()
	actionEntities, err := runner.Adapter().Get(ctx, "action", store.Filter{"_id": actionID}, func() domain.Entity { return &domain.Action{} })
	if err != nil || len(actionEntities) != 1 {
		t.Fatalf("load action: %v", err)
	}
	if actionEntities[0].(*domain.Action).Lock != domain.LockDone {
		t.Error("expected expired action to be LockDone")
	}

	reqEntities, err := runner.Adapter().Get(ctx, "request", store.Filter{"_id": requestID}, func() domain.Entity { return &domain.Request{} })
	if err != nil || len(reqEntities) != 1 {
		t.Fatalf("load request: %v", err)
	}
	if reqEntities[0].(*domain.Request).State != domain.RequestTimeouted {
		t.Error("expected request to be timeouted")
	}
}

func TestReaperLeavesNotYetDueActionAlone(t *testing.T) {
	runner := storetest.NewRunner()
	actionID, _ := seedSleepingAction(t, runner, time.Now().Add(time.Hour), 2)
	r := &Reaper{Runner: runner, Sleep: time.Millisecond}

	handled, err := r.reapOne(context.Background())
	if err != nil {
		t.Fatalf("reapOne: %v", err)
	}
	if handled {
		t.Error("expected a not-yet-due action not to be reported as handled")
	}

	ctx := context.Background()
	entities, err := runner.Adapter().Get(ctx, "action", store.Filter{"_id": actionID}, func() domain.Entity { return &domain.Action{} })
	if err != nil || len(entities) != 1 {
		t.Fatalf("load action: %v", err)
	}
	if entities[0].(*domain.Action).Lock != domain.LockSleeping {
		t.Error("expected action to remain sleeping")
	}
}

func TestReaperNoWorkReturnsFalse(t *testing.T) {
	runner := storetest.NewRunner()
	r := &Reaper{Runner: runner, Sleep: time.Millisecond}

	handled, err := r.reapOne(context.Background())
	if err != nil {
		t.Fatalf("reapOne: %v", err)
	}
	if handled {
		t.Error("expected no work on an empty store")
	}
}
