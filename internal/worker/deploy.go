package worker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/avast/labmanager-unit-vsphere/internal/config"
	"github.com/avast/labmanager-unit-vsphere/internal/domain"
	"github.com/avast/labmanager-unit-vsphere/internal/hypervisor"
	"github.com/avast/labmanager-unit-vsphere/internal/logging"
	"github.com/avast/labmanager-unit-vsphere/internal/metrics"
	"github.com/avast/labmanager-unit-vsphere/internal/observability"
	"github.com/avast/labmanager-unit-vsphere/internal/queue"
	"github.com/avast/labmanager-unit-vsphere/internal/store"
)

// DeployWorker claims Actions of type deploy and drives them through the
// Hypervisor Adapter to a running (or at least deployed) Machine.
type DeployWorker struct {
	Name            string
	Runner          store.Runner
	Adapter         hypervisor.Adapter
	Notifier        queue.Notifier
	Cfg             config.DeployWorkerConfig
	HostsFolderName string // "" disables host-slotted mode
}

// Run blocks until ctx is cancelled, claiming and dispatching deploy
// Actions as they become available.
func (w *DeployWorker) Run(ctx context.Context) error {
	notifications := w.Notifier.Subscribe(ctx, queue.QueueDeploy)
	cfg := loopConfig{initialSleep: w.Cfg.LoopInitialSleep, idleSleep: w.Cfg.LoopIdleSleep, idleCounter: w.Cfg.IdleCounterThreshold}
	return runClaimLoop(ctx, cfg, notifications, w.Adapter, w.claimAndHandle)
}

type claimedDeploy struct {
	action  *domain.Action
	request *domain.Request
	machine *domain.Machine
}

func (w *DeployWorker) claimAndHandle(ctx context.Context) (bool, error) {
	var claim *claimedDeploy
	err := w.Runner.WithTx(ctx, func(ctx context.Context, repos *store.Repos) error {
		action, err := repos.Actions.ClaimFree(ctx, domain.ActionDeploy)
		if err != nil || action == nil {
			return err
		}
		req, err := repos.Requests.Get(ctx, action.Request)
		if err != nil {
			return err
		}
		machine, err := repos.Machines.Get(ctx, req.Machine)
		if err != nil {
			return err
		}
		claim = &claimedDeploy{action: action, request: req, machine: machine}
		return nil
	})
	if err != nil || claim == nil {
		return false, err
	}

	spanCtx, span := observability.StartSpan(ctx, "deploy_worker.dispatch",
		observability.AttrActionType.String(string(claim.action.Type)),
		observability.AttrActionID.Int64(claim.action.ID),
		observability.AttrRequestID.Int64(claim.request.ID),
		observability.AttrMachineID.Int64(claim.machine.ID),
	)
	started := time.Now()
	outcome := w.handleDeploy(spanCtx, claim)
	durationMs := time.Since(started).Milliseconds()
	span.SetAttributes(observability.AttrDurationMs.Int64(durationMs))
	if outcome.err != nil {
		observability.SetSpanError(span, outcome.err)
	} else {
		observability.SetSpanOK(span)
	}
	span.End()

	err = w.Runner.WithTx(ctx, func(ctx context.Context, repos *store.Repos) error {
		return w.persist(ctx, repos, claim, outcome)
	})

	logging.Default().Log(&logging.ActionLog{
		RequestID:  claim.request.ID,
		ActionID:   claim.action.ID,
		MachineID:  claim.machine.ID,
		ActionType: string(claim.action.Type),
		Worker:     w.Name,
		DurationMs: durationMs,
		Success:    outcome.err == nil,
	})
	metrics.Global().RecordAction(string(claim.action.Type), durationMs, outcome.err == nil)
	if outcome.err != nil {
		logging.Op().Error("deploy action failed", "action", claim.action.ID, "error", outcome.err)
		metrics.Global().RecordMachineFailed()
	} else {
		metrics.Global().RecordMachineDeployed()
	}
	return true, err
}

// deployOutcome carries what happened across the gap between the claim
// transaction and the finalize transaction, since the adapter call
// itself must not run inside a DB transaction.
type deployOutcome struct {
	err         error
	uuid        string
	moRef       string
	info        hypervisor.MachineInfo
	ticket      *domain.DeployTicket
	releaseOnly bool // ticket was acquired but the deploy itself failed
}

func (w *DeployWorker) handleDeploy(ctx context.Context, claim *claimedDeploy) deployOutcome {
	if claim.machine.State == domain.MachineUndeployed {
		return deployOutcome{err: fmt.Errorf("machine %d already undeployed", claim.machine.ID)}
	}

	template, ok := claim.machine.Label("template")
	if !ok {
		return deployOutcome{err: hypervisor.ErrTemplateMissing}
	}
	// config labels carry their value after "=", e.g.
	// "config:network_interface=<name>".
	configLabel := func(name string) (string, bool) {
		for _, l := range claim.machine.Labels {
			if v, ok := strings.CutPrefix(l, "config:"+name+"="); ok && v != "" {
				return v, true
			}
		}
		return "", false
	}
	iface := w.Cfg.DefaultNetworkIface
	if !w.Cfg.ForceDefaultNetwork {
		if v, ok := configLabel("network_interface"); ok {
			iface = v
		}
	}
	folder, _ := configLabel("inventory_path")
	running := claim.machine.HasLabel("feat:running")
	outputName := w.outputName(template, claim.machine.ID)

	var (
		uuid, moRef string
		ticket      *domain.DeployTicket
		err         error
	)

	if w.HostsFolderName != "" {
		ticket, err = w.acquireTicket(ctx)
		if err != nil {
			return deployOutcome{err: err}
		}
		uuid, moRef, err = w.Adapter.DeployViaTicket(ctx, template, outputName, hypervisor.Ticket{ID: ticket.ID, HostMoRef: ticket.HostMoref})
		if err != nil {
			return deployOutcome{err: err, ticket: ticket, releaseOnly: true}
		}
	} else {
		uuid, err = w.Adapter.Deploy(ctx, template, outputName, running, folder)
		if err != nil {
			return deployOutcome{err: err}
		}
	}

	if iface != "" {
		if err := w.Adapter.ConfigNetwork(ctx, uuid, iface); err != nil {
			return deployOutcome{err: err, uuid: uuid, moRef: moRef, ticket: ticket, releaseOnly: ticket != nil}
		}
	}

	info, err := w.Adapter.GetMachineInfo(ctx, uuid)
	if err != nil {
		return deployOutcome{err: err, uuid: uuid, moRef: moRef, ticket: ticket, releaseOnly: ticket != nil}
	}
	if info.NosID == "" {
		_ = w.Adapter.Stop(ctx, uuid)
		_ = w.Adapter.Undeploy(ctx, uuid)
		return deployOutcome{err: hypervisor.ErrNoNosID, uuid: uuid, moRef: moRef, ticket: ticket, releaseOnly: ticket != nil}
	}

	return deployOutcome{uuid: uuid, moRef: moRef, info: info, ticket: ticket}
}

// outputName builds the hypervisor-visible VM name: <template>-<unit_name>-
// <machineID> when Cfg.UnitName is configured, else <template>-<machineID>.
func (w *DeployWorker) outputName(template string, machineID int64) string {
	if w.Cfg.UnitName != "" {
		return fmt.Sprintf("%s-%s-%d", template, w.Cfg.UnitName, machineID)
	}
	return fmt.Sprintf("%s-%d", template, machineID)
}

// acquireTicket polls the shared ticket pool until one is available or
// ctx is cancelled, each attempt its own short transaction.
func (w *DeployWorker) acquireTicket(ctx context.Context) (*domain.DeployTicket, error) {
	for {
		var ticket *domain.DeployTicket
		err := w.Runner.WithTx(ctx, func(ctx context.Context, repos *store.Repos) error {
			t, err := repos.Tickets.AcquireAvailable(ctx)
			if err != nil {
				return err
			}
			ticket = t
			return nil
		})
		if err != nil {
			return nil, err
		}
		if ticket != nil {
			return ticket, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(w.Cfg.TicketPollInterval):
		}
	}
}

func (w *DeployWorker) persist(ctx context.Context, repos *store.Repos, claim *claimedDeploy, outcome deployOutcome) error {
	if outcome.ticket != nil && outcome.releaseOnly {
		t, err := repos.Tickets.GetForUpdate(ctx, outcome.ticket.ID)
		if err == nil {
			t.Release()
			_ = repos.Tickets.Save(ctx, t)
		}
	}

	req, err := repos.Requests.GetForUpdate(ctx, claim.request.ID)
	if err != nil {
		return err
	}
	act := claim.action

	if outcome.err != nil {
		req.State = domain.RequestFailed
		machine, mErr := repos.Machines.GetForUpdate(ctx, claim.machine.ID)
		if mErr == nil {
			machine.State = domain.MachineFailed
			_ = repos.Machines.Save(ctx, machine)
		}
		act.Finish()
		if err := repos.Requests.Save(ctx, req); err != nil {
			return err
		}
		return repos.Actions.Save(ctx, act)
	}

	if outcome.ticket != nil {
		t, err := repos.Tickets.GetForUpdate(ctx, outcome.ticket.ID)
		if err != nil {
			return err
		}
		t.Bind(outcome.moRef)
		if err := repos.Tickets.Save(ctx, t); err != nil {
			return err
		}
	}

	machine, err := repos.Machines.GetForUpdate(ctx, claim.machine.ID)
	if err != nil {
		return err
	}
	machine.ProviderID = outcome.uuid
	machine.NosID = outcome.info.NosID
	machine.MachineName = outcome.info.MachineName
	machine.MachineSearchLink = outcome.info.MachineSearchLink
	machine.MachineMoref = outcome.info.MoRef
	machine.IPAddresses = outcome.info.IPAddresses
	if outcome.info.PowerState == hypervisor.PowerOn {
		machine.State = domain.MachineRunning
	} else {
		machine.State = domain.MachineDeployed
	}
	if err := repos.Machines.Save(ctx, machine); err != nil {
		return err
	}

	req.State = domain.RequestSuccess
	if err := repos.Requests.Save(ctx, req); err != nil {
		return err
	}

	act.Finish()
	if err := repos.Actions.Save(ctx, act); err != nil {
		return err
	}

	if machine.State == domain.MachineRunning && w.Cfg.EnqueueGetMachineInfo {
		return enqueueFollowUp(ctx, repos, machine.ID, domain.RequestGetInfo, domain.ActionOther, domain.GetInfoInitialRepetitions)
	}
	return nil
}

