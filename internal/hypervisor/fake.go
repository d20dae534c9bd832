package hypervisor

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// FakeAdapter is an in-memory Adapter for tests and local development
// without a live vCenter. It models just enough vSphere behavior for the
// worker/reaper/ticketing loops to exercise their full state machines:
// deployed machines start powered on, report a synthetic nos_id and IP,
// and snapshot/screenshot calls succeed against tracked state.
type FakeAdapter struct {
	mu        sync.Mutex
	machines  map[string]*fakeMachine
	hosts     []HostView
	idleCalls int
}

type fakeMachine struct {
	moRef     string
	power     PowerState
	snapshots map[string]bool
	deleted   bool
}

// NewFakeAdapter returns a FakeAdapter seeded with hosts.
func NewFakeAdapter(hosts []HostView) *FakeAdapter {
	return &FakeAdapter{
		machines: make(map[string]*fakeMachine),
		hosts:    hosts,
	}
}

func (f *FakeAdapter) Deploy(ctx context.Context, template, machineName string, runningHint bool, inventoryFolder string) (string, error) {
	if template == "" {
		return "", ErrTemplateMissing
	}
	return f.create(""), nil
}

func (f *FakeAdapter) DeployViaTicket(ctx context.Context, template, machineName string, ticket Ticket) (string, string, error) {
	if template == "" {
		return "", "", ErrTemplateMissing
	}
	id := f.create(ticket.HostMoRef)
	f.mu.Lock()
	moRef := f.machines[id].moRef
	f.mu.Unlock()
	return id, moRef, nil
}

func (f *FakeAdapter) create(hostMoRef string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.NewString()
	moRef := hostMoRef
	if moRef == "" {
		moRef = "vm-" + id[:8]
	} else {
		moRef = "vm-" + id[:8] + "@" + moRef
	}
	f.machines[id] = &fakeMachine{moRef: moRef, power: PowerOn, snapshots: make(map[string]bool)}
	return id
}

func (f *FakeAdapter) get(uuid string) (*fakeMachine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.machines[uuid]
	if !ok || m.deleted {
		return nil, ErrNotFound
	}
	return m, nil
}

func (f *FakeAdapter) ConfigNetwork(ctx context.Context, uuid, interfaceName string) error {
	_, err := f.get(uuid)
	return err
}

func (f *FakeAdapter) Start(ctx context.Context, id string) error {
	m, err := f.get(id)
	if err != nil {
		return err
	}
	f.mu.Lock()
	m.power = PowerOn
	f.mu.Unlock()
	return nil
}

func (f *FakeAdapter) Stop(ctx context.Context, id string) error {
	m, err := f.get(id)
	if err != nil {
		return err
	}
	f.mu.Lock()
	m.power = PowerOff
	f.mu.Unlock()
	return nil
}

func (f *FakeAdapter) Undeploy(ctx context.Context, id string) error {
	m, err := f.get(id)
	if err != nil {
		return err
	}
	f.mu.Lock()
	m.deleted = true
	f.mu.Unlock()
	return nil
}

func (f *FakeAdapter) Reset(ctx context.Context, id string) error {
	_, err := f.get(id)
	return err
}

func (f *FakeAdapter) GetMachineInfo(ctx context.Context, id string) (MachineInfo, error) {
	m, err := f.get(id)
	if err != nil {
		return MachineInfo{}, err
	}
	return MachineInfo{
		IPAddresses:       []string{"10.0.0." + id[:2]},
		NosID:             "v" + id[:17],
		MachineName:       "fake-" + id[:8],
		MachineSearchLink: "https://fake.invalid/vm/" + id,
		MoRef:             m.moRef,
		PowerState:        m.power,
	}, nil
}

func (f *FakeAdapter) TakeSnapshot(ctx context.Context, id, name string) (bool, error) {
	m, err := f.get(id)
	if err != nil {
		return false, err
	}
	f.mu.Lock()
	m.snapshots[name] = true
	f.mu.Unlock()
	return true, nil
}

func (f *FakeAdapter) RevertSnapshot(ctx context.Context, id, name string) (bool, error) {
	m, err := f.get(id)
	if err != nil {
		return false, err
	}
	f.mu.Lock()
	_, ok := m.snapshots[name]
	f.mu.Unlock()
	return ok, nil
}

func (f *FakeAdapter) RemoveSnapshot(ctx context.Context, id, name string) (bool, error) {
	m, err := f.get(id)
	if err != nil {
		return false, err
	}
	f.mu.Lock()
	delete(m.snapshots, name)
	f.mu.Unlock()
	return true, nil
}

func (f *FakeAdapter) TakeScreenshot(ctx context.Context, id, storeTo string) ([]byte, string, error) {
	if _, err := f.get(id); err != nil {
		return nil, "", err
	}
	if storeTo != "" {
		return nil, fmt.Sprintf("%s/%s.png", storeTo, id), nil
	}
	return []byte("fake-png-bytes"), "", nil
}

func (f *FakeAdapter) GetHostsInFolder(ctx context.Context, folder string) ([]HostView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]HostView, len(f.hosts))
	copy(out, f.hosts)
	return out, nil
}

// SetHosts replaces the host inventory GetHostsInFolder reports, for
// tests simulating hosts entering/leaving the configured folder.
func (f *FakeAdapter) SetHosts(hosts []HostView) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hosts = hosts
}

func (f *FakeAdapter) Idle(ctx context.Context) error {
	f.mu.Lock()
	f.idleCalls++
	f.mu.Unlock()
	return nil
}

// IdleCalls reports how many times Idle has been invoked, for tests
// asserting the worker's idle-counter threshold behavior.
func (f *FakeAdapter) IdleCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.idleCalls
}
