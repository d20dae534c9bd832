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

func seedDeployRequest(t *testing.T, runner *storetest.Runner, labels []string) (machineID, actionID int64) {
	t.Helper()
	ctx := context.Background()
	machine := &domain.Machine{State: domain.MachineCreated, Labels: labels}
	if err := runner.Adapter().Save(ctx, machine); err != nil {
		t.Fatalf("seed machine: %v", err)
	}
	req := &domain.Request{Type: domain.RequestDeploy, State: domain.RequestCreated, Machine: machine.GetID()}
	if err := runner.Adapter().Save(ctx, req); err != nil {
		t.Fatalf("seed request: %v", err)
	}
	action := &domain.Action{Type: domain.ActionDeploy, Request: req.GetID(), Lock: domain.LockFree, Repetitions: 3, NextTry: domain.FarFutureSentinel()}
	if err := runner.Adapter().Save(ctx, action); err != nil {
		t.Fatalf("seed action: %v", err)
	}
	return machine.GetID(), action.GetID()
}

// spyAdapter wraps FakeAdapter and records the arguments its last Deploy
// call was made with, to assert on label-derived parameters the fake
// itself ignores.
type spyAdapter struct {
	*hypervisor.FakeAdapter
	lastMachineName string
	lastRunningHint bool
	lastIface       string
}

func (s *spyAdapter) Deploy(ctx context.Context, template, machineName string, runningHint bool, inventoryFolder string) (string, error) {
	s.lastMachineName = machineName
	s.lastRunningHint = runningHint
	return s.FakeAdapter.Deploy(ctx, template, machineName, runningHint, inventoryFolder)
}

func (s *spyAdapter) ConfigNetwork(ctx context.Context, uuid, interfaceName string) error {
	s.lastIface = interfaceName
	return s.FakeAdapter.ConfigNetwork(ctx, uuid, interfaceName)
}

func newDeployWorkerForTest(runner store.Runner, adapter hypervisor.Adapter) *DeployWorker {
	return &DeployWorker{
		Name:     "deploy-test",
		Runner:   runner,
		Adapter:  adapter,
		Notifier: queue.NewNoopNotifier(),
		Cfg: config.DeployWorkerConfig{
			LoopInitialSleep:      10 * time.Millisecond,
			LoopIdleSleep:         10 * time.Millisecond,
			IdleCounterThreshold:  1000,
			EnqueueGetMachineInfo: true,
			DefaultNetworkIface:   "VM Network",
			TicketPollInterval:    10 * time.Millisecond,
		},
	}
}

func TestDeployWorkerSuccessfulDeploy(t *testing.T) {
	runner := storetest.NewRunner()
	machineID, _ := seedDeployRequest(t, runner, []string{"template:ubuntu"})
	w := newDeployWorkerForTest(runner, hypervisor.NewFakeAdapter(nil))

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
		t.Fatalf("load machine: %v %d", err, len(entities))
	}
	machine := entities[0].(*domain.Machine)
	if machine.State != domain.MachineRunning {
		t.Errorf("machine.State = %v, want running", machine.State)
	}
	if machine.ProviderID == "" {
		t.Error("expected ProviderID to be set")
	}
	if machine.NosID == "" {
		t.Error("expected NosID to be set")
	}
}

func TestDeployWorkerMissingTemplateFailsRequest(t *testing.T) {
	runner := storetest.NewRunner()
	_, actionID := seedDeployRequest(t, runner, nil)
	w := newDeployWorkerForTest(runner, hypervisor.NewFakeAdapter(nil))

	handled, err := w.claimAndHandle(context.Background())
	if err != nil {
		t.Fatalf("claimAndHandle: %v", err)
	}
	if !handled {
		t.Fatal("expected work to be claimed")
	}

	ctx := context.Background()
	entities, err := runner.Adapter().Get(ctx, "action", store.Filter{"_id": actionID}, func() domain.Entity { return &domain.Action{} })
	if err != nil || len(entities) != 1 {
		t.Fatalf("load action: %v", err)
	}
	action := entities[0].(*domain.Action)
	if action.Lock != domain.LockDone {
		t.Errorf("action.Lock = %v, want LockDone", action.Lock)
	}
}

func TestDeployWorkerPassesRunningHintFromLabel(t *testing.T) {
	runner := storetest.NewRunner()
	_, _ = seedDeployRequest(t, runner, []string{"template:ubuntu", "feat:running"})
	spy := &spyAdapter{FakeAdapter: hypervisor.NewFakeAdapter(nil)}
	w := newDeployWorkerForTest(runner, spy)

	if _, err := w.claimAndHandle(context.Background()); err != nil {
		t.Fatalf("claimAndHandle: %v", err)
	}
	if !spy.lastRunningHint {
		t.Error("expected runningHint=true to be passed through from the feat:running label")
	}
}

func TestDeployWorkerRunningHintDefaultsFalse(t *testing.T) {
	runner := storetest.NewRunner()
	_, _ = seedDeployRequest(t, runner, []string{"template:ubuntu"})
	spy := &spyAdapter{FakeAdapter: hypervisor.NewFakeAdapter(nil)}
	w := newDeployWorkerForTest(runner, spy)

	if _, err := w.claimAndHandle(context.Background()); err != nil {
		t.Fatalf("claimAndHandle: %v", err)
	}
	if spy.lastRunningHint {
		t.Error("expected runningHint=false when feat:running label is absent")
	}
}

func TestDeployWorkerOutputNameWithUnitName(t *testing.T) {
	runner := storetest.NewRunner()
	_, _ = seedDeployRequest(t, runner, []string{"template:ubuntu"})
	spy := &spyAdapter{FakeAdapter: hypervisor.NewFakeAdapter(nil)}
	w := newDeployWorkerForTest(runner, spy)
	w.Cfg.UnitName = "lab7"

	if _, err := w.claimAndHandle(context.Background()); err != nil {
		t.Fatalf("claimAndHandle: %v", err)
	}
	want := "ubuntu-lab7-1"
	if spy.lastMachineName != want {
		t.Errorf("machineName = %q, want %q", spy.lastMachineName, want)
	}
}

func TestDeployWorkerOutputNameWithoutUnitName(t *testing.T) {
	runner := storetest.NewRunner()
	_, _ = seedDeployRequest(t, runner, []string{"template:ubuntu"})
	spy := &spyAdapter{FakeAdapter: hypervisor.NewFakeAdapter(nil)}
	w := newDeployWorkerForTest(runner, spy)

	if _, err := w.claimAndHandle(context.Background()); err != nil {
		t.Fatalf("claimAndHandle: %v", err)
	}
	want := "ubuntu-1"
	if spy.lastMachineName != want {
		t.Errorf("machineName = %q, want %q", spy.lastMachineName, want)
	}
}

func TestDeployWorkerNetworkInterfacePrecedence(t *testing.T) {
	runner := storetest.NewRunner()
	_, _ = seedDeployRequest(t, runner, []string{"template:ubuntu", "config:network_interface=Custom Net"})
	spy := &spyAdapter{FakeAdapter: hypervisor.NewFakeAdapter(nil)}
	w := newDeployWorkerForTest(runner, spy)

	if _, err := w.claimAndHandle(context.Background()); err != nil {
		t.Fatalf("claimAndHandle: %v", err)
	}
	if spy.lastIface != "Custom Net" {
		t.Errorf("iface = %q, want the machine's config:network_interface label to win", spy.lastIface)
	}
}

func TestDeployWorkerForceDefaultNetworkIgnoresLabel(t *testing.T) {
	runner := storetest.NewRunner()
	_, _ = seedDeployRequest(t, runner, []string{"template:ubuntu", "config:network_interface=Custom Net"})
	spy := &spyAdapter{FakeAdapter: hypervisor.NewFakeAdapter(nil)}
	w := newDeployWorkerForTest(runner, spy)
	w.Cfg.ForceDefaultNetwork = true

	if _, err := w.claimAndHandle(context.Background()); err != nil {
		t.Fatalf("claimAndHandle: %v", err)
	}
	if spy.lastIface != w.Cfg.DefaultNetworkIface {
		t.Errorf("iface = %q, want the configured default %q to win over the label", spy.lastIface, w.Cfg.DefaultNetworkIface)
	}
}

func TestDeployWorkerNoWorkReturnsFalse(t *testing.T) {
	runner := storetest.NewRunner()
	w := newDeployWorkerForTest(runner, hypervisor.NewFakeAdapter(nil))

	handled, err := w.claimAndHandle(context.Background())
	if err != nil {
		t.Fatalf("claimAndHandle: %v", err)
	}
	if handled {
		t.Error("expected no work to be claimed from an empty store")
	}
}
