package domain

import (
	"testing"
	"time"
)

func TestMachineStateCanBeChanged(t *testing.T) {
	cases := map[MachineState]bool{
		MachineCreated:    true,
		MachineDeployed:   true,
		MachineRunning:    true,
		MachineStopped:    true,
		MachineUndeployed: false,
		MachineFailed:     false,
	}
	for state, want := range cases {
		if got := state.CanBeChanged(); got != want {
			t.Errorf("%s.CanBeChanged() = %v, want %v", state, got, want)
		}
	}
}

func TestRequestStateHasFinishedAndIsError(t *testing.T) {
	cases := []struct {
		state      RequestState
		finished   bool
		isError    bool
	}{
		{RequestCreated, false, false},
		{RequestDelayed, false, false},
		{RequestSuccess, true, false},
		{RequestFailed, true, true},
		{RequestTimeouted, true, true},
		{RequestAborted, true, true},
	}
	for _, c := range cases {
		if got := c.state.HasFinished(); got != c.finished {
			t.Errorf("%s.HasFinished() = %v, want %v", c.state, got, c.finished)
		}
		if got := c.state.IsError(); got != c.isError {
			t.Errorf("%s.IsError() = %v, want %v", c.state, got, c.isError)
		}
	}
}

func TestRequestTypeCanChangeMachineState(t *testing.T) {
	changers := []RequestType{RequestStart, RequestStop, RequestDeploy, RequestUndeploy}
	for _, rt := range changers {
		if !rt.CanChangeMachineState() {
			t.Errorf("%s.CanChangeMachineState() = false, want true", rt)
		}
	}
	nonChangers := []RequestType{RequestRestart, RequestGetInfo, RequestTakeScreenshot}
	for _, rt := range nonChangers {
		if rt.CanChangeMachineState() {
			t.Errorf("%s.CanChangeMachineState() = true, want false", rt)
		}
	}
}

func TestActionRearmUsesSentinel(t *testing.T) {
	a := &Action{Lock: LockSleeping, Repetitions: 5}
	a.Rearm()
	if a.Lock != LockFree {
		t.Fatalf("Rearm() left Lock=%v, want LockFree", a.Lock)
	}
	if !a.NextTry.Equal(FarFutureSentinel()) {
		t.Fatalf("Rearm() NextTry = %v, want sentinel", a.NextTry)
	}
}

func TestActionExpired(t *testing.T) {
	a := &Action{Repetitions: 0}
	if !a.Expired() {
		t.Fatal("Expired() = false, want true when Repetitions == 0")
	}
	a.Repetitions = 1
	if a.Expired() {
		t.Fatal("Expired() = true, want false when Repetitions > 0")
	}
}

func TestDeployTicketBindAndRelease(t *testing.T) {
	tk := &DeployTicket{Enabled: true, Taken: 0}
	if !tk.Available() {
		t.Fatal("Available() = false, want true for enabled+untaken ticket")
	}
	tk.Bind("vm-42")
	if tk.Available() {
		t.Fatal("Available() = true after Bind, want false")
	}
	if tk.AssignedVMMoref != "vm-42" {
		t.Fatalf("AssignedVMMoref = %q, want vm-42", tk.AssignedVMMoref)
	}
	tk.Release()
	if tk.Taken != 0 || tk.AssignedVMMoref != "" {
		t.Fatalf("Release() left Taken=%d AssignedVMMoref=%q", tk.Taken, tk.AssignedVMMoref)
	}
}

func TestMachineLabelLookup(t *testing.T) {
	m := &Machine{Labels: []string{"template:t1", "config:network_interface=eth1", "feat:running"}}
	if v, ok := m.Label("template"); !ok || v != "t1" {
		t.Fatalf("Label(template) = (%q, %v), want (t1, true)", v, ok)
	}
	if !m.HasLabel("feat:running") {
		t.Fatal("HasLabel(feat:running) = false, want true")
	}
	if _, ok := m.Label("missing"); ok {
		t.Fatal("Label(missing) = found, want not found")
	}
}

func TestToDictTruncatesPayloadWhenRedacted(t *testing.T) {
	s := &Screenshot{
		ID:      1,
		Machine: 7,
		Status:  ScreenshotReady,
		Store:   ScreenshotStoreDB,
		Payload: string(make([]byte, 200)),
	}
	full := ToDict(s, false, true)
	if full["payload"].(string) != s.Payload {
		t.Fatal("ToDict(redacted=false) truncated payload, want untouched")
	}
	redacted := ToDict(s, true, true)
	if len(redacted["payload"].(string)) >= len(s.Payload) {
		t.Fatal("ToDict(redacted=true) did not truncate long payload")
	}
}

func TestHostRuntimeInfoReady(t *testing.T) {
	h := &HostRuntimeInfo{}
	if !h.Ready() {
		t.Fatal("Ready() = false for fresh host, want true")
	}
	h.Maintenance = true
	if h.Ready() {
		t.Fatal("Ready() = true while in maintenance, want false")
	}
	h.Maintenance = false
	h.ToBeInMaintenance = true
	if h.Ready() {
		t.Fatal("Ready() = true while scheduled for maintenance, want false")
	}
}

func TestFarFutureSentinelIsFarInTheFuture(t *testing.T) {
	if !FarFutureSentinel().After(time.Now().AddDate(1000, 0, 0)) {
		t.Fatal("sentinel NextTry is not far enough in the future")
	}
}
