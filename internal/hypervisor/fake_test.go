package hypervisor

import (
	"context"
	"testing"
)

func TestFakeAdapterDeployAndInfo(t *testing.T) {
	f := NewFakeAdapter(nil)
	ctx := context.Background()

	id, err := f.Deploy(ctx, "tmpl-ubuntu", "box1", false, "")
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}

	info, err := f.GetMachineInfo(ctx, id)
	if err != nil {
		t.Fatalf("GetMachineInfo: %v", err)
	}
	if info.NosID == "" {
		t.Fatal("expected non-empty nos_id")
	}
	if info.PowerState != PowerOn {
		t.Fatalf("expected freshly deployed machine powered on, got %s", info.PowerState)
	}
}

func TestFakeAdapterDeployRequiresTemplate(t *testing.T) {
	f := NewFakeAdapter(nil)
	if _, err := f.Deploy(context.Background(), "", "box1", false, ""); err != ErrTemplateMissing {
		t.Fatalf("expected ErrTemplateMissing, got %v", err)
	}
}

func TestFakeAdapterUndeployThenNotFound(t *testing.T) {
	f := NewFakeAdapter(nil)
	ctx := context.Background()
	id, _ := f.Deploy(ctx, "tmpl", "box1", false, "")

	if err := f.Undeploy(ctx, id); err != nil {
		t.Fatalf("Undeploy: %v", err)
	}
	if _, err := f.GetMachineInfo(ctx, id); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after undeploy, got %v", err)
	}
}

func TestFakeAdapterDeployViaTicketBindsHost(t *testing.T) {
	f := NewFakeAdapter(nil)
	ctx := context.Background()

	id, moRef, err := f.DeployViaTicket(ctx, "tmpl", "box1", Ticket{ID: 1, HostMoRef: "host-7"})
	if err != nil {
		t.Fatalf("DeployViaTicket: %v", err)
	}
	if id == "" || moRef == "" {
		t.Fatal("expected non-empty uuid and moref")
	}
}

func TestFakeAdapterSnapshotLifecycle(t *testing.T) {
	f := NewFakeAdapter(nil)
	ctx := context.Background()
	id, _ := f.Deploy(ctx, "tmpl", "box1", false, "")

	ok, err := f.TakeSnapshot(ctx, id, "before-upgrade")
	if err != nil || !ok {
		t.Fatalf("TakeSnapshot: ok=%v err=%v", ok, err)
	}
	if ok, err := f.RevertSnapshot(ctx, id, "before-upgrade"); err != nil || !ok {
		t.Fatalf("RevertSnapshot: ok=%v err=%v", ok, err)
	}
	if ok, err := f.RemoveSnapshot(ctx, id, "before-upgrade"); err != nil || !ok {
		t.Fatalf("RemoveSnapshot: ok=%v err=%v", ok, err)
	}
	if ok, err := f.RevertSnapshot(ctx, id, "before-upgrade"); err != nil || ok {
		t.Fatalf("expected RevertSnapshot to miss after removal, got ok=%v err=%v", ok, err)
	}
}

func TestFakeAdapterIdleCounts(t *testing.T) {
	f := NewFakeAdapter(nil)
	for i := 0; i < 3; i++ {
		if err := f.Idle(context.Background()); err != nil {
			t.Fatalf("Idle: %v", err)
		}
	}
	if f.IdleCalls() != 3 {
		t.Fatalf("expected 3 idle calls, got %d", f.IdleCalls())
	}
}

func TestFakeAdapterGetHostsInFolder(t *testing.T) {
	hosts := []HostView{{Name: "esx1", MoRef: "host-1"}, {Name: "esx2", MoRef: "host-2"}}
	f := NewFakeAdapter(hosts)

	got, err := f.GetHostsInFolder(context.Background(), "datacenter/hosts")
	if err != nil {
		t.Fatalf("GetHostsInFolder: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 hosts, got %d", len(got))
	}
}
