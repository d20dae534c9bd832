// Package ticketing implements the Ticket Scheduler: the per-revolution
// job that keeps the DeployTicket pool sized and enabled to match the
// configured per-host slot capacity against the live set of ready hosts.
package ticketing

import (
	"context"
	"time"

	"github.com/avast/labmanager-unit-vsphere/internal/domain"
	"github.com/avast/labmanager-unit-vsphere/internal/logging"
	"github.com/avast/labmanager-unit-vsphere/internal/metrics"
	"github.com/avast/labmanager-unit-vsphere/internal/store"
)

// maxTicketCleanupPerRevolution bounds how many disabled prior-generation
// tickets get deleted in a single revolution, so cleanup never turns one
// transaction into a long-running table scan.
const maxTicketCleanupPerRevolution = 25

// Scheduler owns the DeployTicket pool: disabling tickets on hosts that
// enter maintenance, rebalancing the pool when the host set changes, and
// filling newly-enabled tickets up to per-host capacity otherwise.
type Scheduler struct {
	Runner    store.Runner
	SlotLimit int
	Sleep     time.Duration
}

// Run blocks until ctx is cancelled, running one revolution every Sleep
// interval.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := s.Revolve(ctx); err != nil {
			logging.Op().Error("ticket scheduler revolution failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.Sleep):
		}
	}
}

// Revolve runs exactly one scheduling revolution: disable maintenance
// tickets, rebalance or fill, then bounded cleanup of the prior
// generation's disabled tickets.
func (s *Scheduler) Revolve(ctx context.Context) error {
	return s.Runner.WithTx(ctx, func(ctx context.Context, repos *store.Repos) error {
		hosts, err := repos.HostInfos.All(ctx)
		if err != nil {
			return err
		}
		if len(hosts) == 0 {
			return nil
		}

		readyMorefs := make(map[string]bool, len(hosts))
		hostMorefs := make([]string, 0, len(hosts))
		for _, h := range hosts {
			hostMorefs = append(hostMorefs, h.MoRef)
			if h.Ready() {
				readyMorefs[h.MoRef] = true
			}
		}
		k := s.SlotLimit / len(hosts)

		tickets, err := repos.Tickets.All(ctx)
		if err != nil {
			return err
		}

		if err := disableMaintenanceTickets(ctx, repos, tickets, readyMorefs); err != nil {
			return err
		}

		fakeID := lastSeparatorID(tickets)
		active := activeTickets(tickets, fakeID)
		wantActive := k * len(hosts)

		if len(active) != wantActive {
			if err := s.rebalance(ctx, repos, tickets, hostMorefs, wantActive); err != nil {
				return err
			}
		} else {
			if err := fillReadyHosts(ctx, repos, active, readyMorefs, fakeID, k); err != nil {
				return err
			}
		}

		taken, enabled := ticketUtilizationCounts(tickets)
		metrics.SetTicketUtilization(taken, enabled)
		if err := publishQueueAndMachineGauges(ctx, repos); err != nil {
			logging.Op().Warn("ticket scheduler failed to publish gauges", "error", err)
		}

		return cleanup(ctx, repos, tickets, fakeID)
	})
}

// publishQueueAndMachineGauges samples current queue depths and the
// machine-state distribution once per revolution, piggybacking on the
// scheduler's existing cadence rather than running its own loop.
func publishQueueAndMachineGauges(ctx context.Context, repos *store.Repos) error {
	deployDepth, err := repos.Actions.CountFree(ctx, domain.ActionDeploy)
	if err != nil {
		return err
	}
	opsDepth, err := repos.Actions.CountFree(ctx, domain.ActionOther)
	if err != nil {
		return err
	}
	metrics.SetQueueDepth(string(domain.ActionDeploy), deployDepth)
	metrics.SetQueueDepth(string(domain.ActionOther), opsDepth)

	machines, err := repos.Machines.ListByOwner(ctx, "")
	if err != nil {
		return err
	}
	counts := make(map[string]int)
	for _, m := range machines {
		counts[string(m.State)]++
	}
	metrics.SetMachinesByState(counts)
	return nil
}

// ticketUtilizationCounts reports how many non-separator tickets are
// currently taken versus enabled, for the ticket_utilization_ratio gauge.
func ticketUtilizationCounts(tickets []*domain.DeployTicket) (taken, enabled int) {
	for _, t := range tickets {
		if t.IsSeparator() {
			continue
		}
		if t.Enabled {
			enabled++
		}
		if t.Taken == 1 {
			taken++
		}
	}
	return taken, enabled
}

func disableMaintenanceTickets(ctx context.Context, repos *store.Repos, tickets []*domain.DeployTicket, readyMorefs map[string]bool) error {
	for _, t := range tickets {
		if t.IsSeparator() || !t.Enabled {
			continue
		}
		if !readyMorefs[t.HostMoref] {
			t.Enabled = false
			if err := repos.Tickets.Save(ctx, t); err != nil {
				return err
			}
		}
	}
	return nil
}

// lastSeparatorID returns the id of the most recent SEPARATOR ticket, or
// 0 if none exists (meaning every ticket is part of the active
// generation).
func lastSeparatorID(tickets []*domain.DeployTicket) int64 {
	var maxID int64
	for _, t := range tickets {
		if t.IsSeparator() && t.ID > maxID {
			maxID = t.ID
		}
	}
	return maxID
}

func activeTickets(tickets []*domain.DeployTicket, fakeID int64) []*domain.DeployTicket {
	var active []*domain.DeployTicket
	for _, t := range tickets {
		if !t.IsSeparator() && t.ID > fakeID {
			active = append(active, t)
		}
	}
	return active
}

// rebalance retires the current generation and produces a fresh,
// all-disabled pool of wantActive tickets round-robined across
// hostMorefs.
func (s *Scheduler) rebalance(ctx context.Context, repos *store.Repos, tickets []*domain.DeployTicket, hostMorefs []string, wantActive int) error {
	for _, t := range tickets {
		if !t.IsSeparator() && t.Enabled {
			t.Enabled = false
			if err := repos.Tickets.Save(ctx, t); err != nil {
				return err
			}
		}
	}

	separator := &domain.DeployTicket{HostMoref: domain.SeparatorHostMoref, Enabled: false}
	if err := repos.Tickets.Save(ctx, separator); err != nil {
		return err
	}

	if len(hostMorefs) == 0 {
		return nil
	}
	for i := 0; i < wantActive; i++ {
		ticket := &domain.DeployTicket{HostMoref: hostMorefs[i%len(hostMorefs)], Enabled: false}
		if err := repos.Tickets.Save(ctx, ticket); err != nil {
			return err
		}
	}
	return nil
}

// fillReadyHosts enables newly-created tickets (id > fakeID) for ready
// hosts still below their per-host capacity k, in ticket-id order so the
// result is deterministic.
func fillReadyHosts(ctx context.Context, repos *store.Repos, active []*domain.DeployTicket, readyMorefs map[string]bool, fakeID int64, k int) error {
	counts := make(map[string]int)
	var pending []*domain.DeployTicket
	for _, t := range active {
		if t.Taken == 1 {
			counts[t.HostMoref]++
			continue
		}
		if t.Enabled {
			counts[t.HostMoref]++
			continue
		}
		pending = append(pending, t)
	}

	sortByID(pending)

	for _, t := range pending {
		if !readyMorefs[t.HostMoref] {
			continue
		}
		if counts[t.HostMoref] >= k {
			continue
		}
		t.Enabled = true
		if err := repos.Tickets.Save(ctx, t); err != nil {
			return err
		}
		counts[t.HostMoref]++
	}
	return nil
}

func sortByID(tickets []*domain.DeployTicket) {
	for i := 1; i < len(tickets); i++ {
		for j := i; j > 0 && tickets[j].ID < tickets[j-1].ID; j-- {
			tickets[j], tickets[j-1] = tickets[j-1], tickets[j]
		}
	}
}

// cleanup deletes up to maxTicketCleanupPerRevolution disabled tickets
// from the retired generation (id < fakeID), bounding how much history
// one revolution can clear so the scheduler never holds a long
// transaction even with years of accumulated generations.
func cleanup(ctx context.Context, repos *store.Repos, tickets []*domain.DeployTicket, fakeID int64) error {
	if fakeID == 0 {
		return nil
	}
	deleted := 0
	candidates := append([]*domain.DeployTicket(nil), tickets...)
	sortByID(candidates)
	for _, t := range candidates {
		if deleted >= maxTicketCleanupPerRevolution {
			break
		}
		if t.ID >= fakeID || t.Enabled {
			continue
		}
		if err := repos.Tickets.Delete(ctx, t.ID); err != nil {
			return err
		}
		deleted++
	}
	return nil
}
