package ticketing

import (
	"context"
	"testing"

	"github.com/avast/labmanager-unit-vsphere/internal/domain"
	"github.com/avast/labmanager-unit-vsphere/internal/store"
	"github.com/avast/labmanager-unit-vsphere/internal/store/storetest"
)

func seedHost(t *testing.T, runner *storetest.Runner, moRef string, maintenance bool) {
	t.Helper()
	host := &domain.HostRuntimeInfo{Name: moRef, MoRef: moRef, Maintenance: maintenance}
	if err := runner.Adapter().Save(context.Background(), host); err != nil {
		t.Fatalf("seed host %s: %v", moRef, err)
	}
}

func allTickets(t *testing.T, runner *storetest.Runner) []*domain.DeployTicket {
	t.Helper()
	entities, err := runner.Adapter().Get(context.Background(), "deploy_ticket", store.Filter{}, func() domain.Entity { return &domain.DeployTicket{} })
	if err != nil {
		t.Fatalf("list tickets: %v", err)
	}
	out := make([]*domain.DeployTicket, len(entities))
	for i, e := range entities {
		out[i] = e.(*domain.DeployTicket)
	}
	return out
}

func TestSchedulerRebalanceCreatesTicketsForEachHost(t *testing.T) {
	runner := storetest.NewRunner()
	seedHost(t, runner, "host-a", false)
	seedHost(t, runner, "host-b", false)
	s := &Scheduler{Runner: runner, SlotLimit: 4}

	if err := s.Revolve(context.Background()); err != nil {
		t.Fatalf("Revolve: %v", err)
	}

	tickets := allTickets(t, runner)
	var separators, slots int
	perHost := map[string]int{}
	for _, ticket := range tickets {
		if ticket.IsSeparator() {
			separators++
			continue
		}
		slots++
		perHost[ticket.HostMoref]++
		if ticket.Enabled {
			t.Errorf("freshly rebalanced ticket %d should start disabled", ticket.ID)
		}
	}
	if separators != 1 {
		t.Errorf("separators = %d, want 1", separators)
	}
	if slots != 4 {
		t.Errorf("slots = %d, want 4 (K=2 * |H|=2)", slots)
	}
	if perHost["host-a"] != 2 || perHost["host-b"] != 2 {
		t.Errorf("perHost = %v, want 2 each", perHost)
	}
}

func TestSchedulerFillEnablesUpToCapacity(t *testing.T) {
	runner := storetest.NewRunner()
	seedHost(t, runner, "host-a", false)
	s := &Scheduler{Runner: runner, SlotLimit: 2}

	if err := s.Revolve(context.Background()); err != nil {
		t.Fatalf("first Revolve: %v", err)
	}
	if err := s.Revolve(context.Background()); err != nil {
		t.Fatalf("second Revolve (fill): %v", err)
	}

	enabled := 0
	for _, ticket := range allTickets(t, runner) {
		if !ticket.IsSeparator() && ticket.Enabled {
			enabled++
		}
	}
	if enabled != 2 {
		t.Errorf("enabled tickets = %d, want 2 (K=2 for single host)", enabled)
	}
}

func TestSchedulerDisablesMaintenanceHostTickets(t *testing.T) {
	runner := storetest.NewRunner()
	seedHost(t, runner, "host-a", false)
	s := &Scheduler{Runner: runner, SlotLimit: 2}
	if err := s.Revolve(context.Background()); err != nil {
		t.Fatalf("Revolve: %v", err)
	}
	if err := s.Revolve(context.Background()); err != nil {
		t.Fatalf("fill Revolve: %v", err)
	}

	ctx := context.Background()
	hosts, err := runner.Adapter().Get(ctx, "host_runtime_info", store.Filter{}, func() domain.Entity { return &domain.HostRuntimeInfo{} })
	if err != nil || len(hosts) != 1 {
		t.Fatalf("load host: %v", err)
	}
	host := hosts[0].(*domain.HostRuntimeInfo)
	host.Maintenance = true
	if err := runner.Adapter().Save(ctx, host); err != nil {
		t.Fatalf("mark maintenance: %v", err)
	}

	if err := s.Revolve(ctx); err != nil {
		t.Fatalf("maintenance Revolve: %v", err)
	}

	for _, ticket := range allTickets(t, runner) {
		if ticket.IsSeparator() {
			continue
		}
		if ticket.Enabled {
			t.Errorf("ticket %d on maintenance host should be disabled", ticket.ID)
		}
	}
}

func TestSchedulerNoHostsIsNoop(t *testing.T) {
	runner := storetest.NewRunner()
	s := &Scheduler{Runner: runner, SlotLimit: 4}
	if err := s.Revolve(context.Background()); err != nil {
		t.Fatalf("Revolve: %v", err)
	}
	if len(allTickets(t, runner)) != 0 {
		t.Error("expected no tickets created with zero known hosts")
	}
}
