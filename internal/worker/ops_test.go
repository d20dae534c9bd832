package worker

import (
	"context"
	"testing"
	"time"

	"github.com/avast/labmanager-unit-vsphere/internal/config"
	"github.com/avast/labmanager-unit-vsphere/internal/domain"
	"github.com/avast/labmanager-unit-vsphere/internal/hypervisor"
	"github.com/avast/labmanager-unit-vsphere/internal/queue"
	"github.com/avast/labmanager-unit-vsphere/internal/store"
	"github.com/avast/labmanager-unit-vsphere/internal/store/storetest"
)

// noIPAdapter wraps FakeAdapter but reports no IPs yet, to exercise the
// get_info retry sub-protocol.
type noIPAdapter struct {
	*hypervisor.FakeAdapter
}

func (n *noIPAdapter) GetMachineInfo(ctx context.Context, id string) (hypervisor.MachineInfo, error) {
	info, err := n.FakeAdapter.GetMachineInfo(ctx, id)
	if err != nil {
		return info, err
	}
	info.IPAddresses = nil
	return info, nil
}

func seedOpRequest(t *testing.T, runner *storetest.Runner, adapter *hypervisor.FakeAdapter, reqType domain.RequestType, machineState domain.MachineState) (machineID, actionID, requestID int64, providerID string) {
	t.Helper()
	ctx := context.Background()
	uuid, err := adapter.Deploy(ctx, "tmpl", "m", false, "")
	if err != nil {
		t.Fatalf("seed deploy: %v", err)
	}

	machine := &domain.Machine{State: machineState, ProviderID: uuid}
	if err := runner.Adapter().Save(ctx, machine); err != nil {
		t.Fatalf("seed machine: %v", err)
	}
	req := &domain.Request{Type: reqType, State: domain.RequestCreated, Machine: machine.GetID()}
	if err := runner.Adapter().Save(ctx, req); err != nil {
		t.Fatalf("seed request: %v", err)
	}
	action := &domain.Action{Type: domain.ActionOther, Request: req.GetID(), Lock: domain.LockFree, Repetitions: 3, NextTry: domain.FarFutureSentinel()}
	if err := runner.Adapter().Save(ctx, action); err != nil {
		t.Fatalf("seed action: %v", err)
	}
	return machine.GetID(), action.GetID(), req.GetID(), uuid
}

func newOpsWorkerForTest(runner store.Runner, adapter hypervisor.Adapter) *OpsWorker {
	return &OpsWorker{
		Name:     "ops-test",
		Runner:   runner,
		Adapter:  adapter,
		Notifier: queue.NewNoopNotifier(),
		Cfg: config.OpsWorkerConfig{
			LoopInitialSleep:     10 * time.Millisecond,
			LoopIdleSleep:        10 * time.Millisecond,
			IdleCounterThreshold: 1000,
			GetInfoRetryDelay:    0,
		},
	}
}

func TestOpsWorkerStopTransitionsMachine(t *testing.T) {
	runner := storetest.NewRunner()
	adapter := hypervisor.NewFakeAdapter(nil)
	machineID, _, _, _ := seedOpRequest(t, runner, adapter, domain.RequestStop, domain.MachineRunning)
	w := newOpsWorkerForTest(runner, adapter)

	handled, err := w.claimAndHandle(context.Background())
	if err != nil {
		t.Fatalf("claimAndHandle: %v", err)
	}
	if !handled {
		t.Fatal("expected work to be claimed")
	}

	ctx := context.Background()
	entities, err := runner.Adapter().Get(ctx, "machine", store.Filter{"_id": machineID}, func() domain.Entity { return &domain.Machine{} })
	if err != nil || len(entities) != 1 {
		t.Fatalf("load machine: %v", err)
	}
	machine := entities[0].(*domain.Machine)
	if machine.State != domain.MachineStopped {
		t.Errorf("machine.State = %v, want stopped", machine.State)
	}
}

func TestOpsWorkerGetInfoRearmsWhenNoIPsYet(t *testing.T) {
	runner := storetest.NewRunner()
	fake := hypervisor.NewFakeAdapter(nil)
	_, actionID, requestID, providerID := seedOpRequest(t, runner, fake, domain.RequestGetInfo, domain.MachineRunning)
	_ = providerID
	adapter := &noIPAdapter{FakeAdapter: fake}
	w := newOpsWorkerForTest(runner, adapter)

	handled, err := w.claimAndHandle(context.Background())
	if err != nil {
		t.Fatalf("claimAndHandle: %v", err)
	}
	if !handled {
		t.Fatal("expected work to be claimed")
	}

	ctx := context.Background()
	actionEntities, err := runner.Adapter().Get(ctx, "action", store.Filter{"_id": actionID}, func() domain.Entity { return &domain.Action{} })
	if err != nil || len(actionEntities) != 1 {
		t.Fatalf("load action: %v", err)
	}
	action := actionEntities[0].(*domain.Action)
	if action.Lock != domain.LockSleeping {
		t.Errorf("action.Lock = %v, want LockSleeping", action.Lock)
	}
	if action.Repetitions != 2 {
		t.Errorf("action.Repetitions = %d, want 2", action.Repetitions)
	}

	reqEntities, err := runner.Adapter().Get(ctx, "request", store.Filter{"_id": requestID}, func() domain.Entity { return &domain.Request{} })
	if err != nil || len(reqEntities) != 1 {
		t.Fatalf("load request: %v", err)
	}
	req := reqEntities[0].(*domain.Request)
	if req.State != domain.RequestDelayed {
		t.Errorf("req.State = %v, want delayed", req.State)
	}
}

func TestOpsWorkerGetInfoSucceedsWithIPs(t *testing.T) {
	runner := storetest.NewRunner()
	adapter := hypervisor.NewFakeAdapter(nil)
	machineID, _, requestID, _ := seedOpRequest(t, runner, adapter, domain.RequestGetInfo, domain.MachineRunning)
	w := newOpsWorkerForTest(runner, adapter)

	handled, err := w.claimAndHandle(context.Background())
	if err != nil {
		t.Fatalf("claimAndHandle: %v", err)
	}
	if !handled {
		t.Fatal("expected work to be claimed")
	}

	ctx := context.Background()
	machineEntities, err := runner.Adapter().Get(ctx, "machine", store.Filter{"_id": machineID}, func() domain.Entity { return &domain.Machine{} })
	if err != nil || len(machineEntities) != 1 {
		t.Fatalf("load machine: %v", err)
	}
	machine := machineEntities[0].(*domain.Machine)
	if len(machine.IPAddresses) == 0 {
		t.Error("expected IPAddresses to be populated")
	}

	reqEntities, err := runner.Adapter().Get(ctx, "request", store.Filter{"_id": requestID}, func() domain.Entity { return &domain.Request{} })
	if err != nil || len(reqEntities) != 1 {
		t.Fatalf("load request: %v", err)
	}
	if reqEntities[0].(*domain.Request).State != domain.RequestSuccess {
		t.Errorf("req.State = %v, want success", reqEntities[0].(*domain.Request).State)
	}
}

func TestOpsWorkerAbortsWhenMachineCannotChange(t *testing.T) {
	runner := storetest.NewRunner()
	adapter := hypervisor.NewFakeAdapter(nil)
	_, actionID, requestID, _ := seedOpRequest(t, runner, adapter, domain.RequestStart, domain.MachineUndeployed)
	w := newOpsWorkerForTest(runner, adapter)

	handled, err := w.claimAndHandle(context.Background())
	if err != nil {
		t.Fatalf("claimAndHandle: %v", err)
	}
	if !handled {
		t.Fatal("expected work to be claimed")
	}

	ctx := context.Background()
	reqEntities, err := runner.Adapter().Get(ctx, "request", store.Filter{"_id": requestID}, func() domain.Entity { return &domain.Request{} })
	if err != nil || len(reqEntities) != 1 {
		t.Fatalf("load request: %v", err)
	}
	if reqEntities[0].(*domain.Request).State != domain.RequestAborted {
		t.Errorf("req.State = %v, want aborted", reqEntities[0].(*domain.Request).State)
	}

	actionEntities, err := runner.Adapter().Get(ctx, "action", store.Filter{"_id": actionID}, func() domain.Entity { return &domain.Action{} })
	if err != nil || len(actionEntities) != 1 {
		t.Fatalf("load action: %v", err)
	}
	if actionEntities[0].(*domain.Action).Lock != domain.LockDone {
		t.Error("expected action to be finished")
	}
}
