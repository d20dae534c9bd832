package worker

import (
	"context"
	"fmt"
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

// OpsWorker claims Actions of type other — every Request except deploy —
// and dispatches them against the Hypervisor Adapter.
type OpsWorker struct {
	Name     string
	Runner   store.Runner
	Adapter  hypervisor.Adapter
	Notifier queue.Notifier
	Cfg      config.OpsWorkerConfig
}

// Run blocks until ctx is cancelled, claiming and dispatching ops
// Actions as they become available.
func (w *OpsWorker) Run(ctx context.Context) error {
	notifications := w.Notifier.Subscribe(ctx, queue.QueueOps)
	cfg := loopConfig{initialSleep: w.Cfg.LoopInitialSleep, idleSleep: w.Cfg.LoopIdleSleep, idleCounter: w.Cfg.IdleCounterThreshold}
	return runClaimLoop(ctx, cfg, notifications, w.Adapter, w.claimAndHandle)
}

type claimedOp struct {
	action  *domain.Action
	request *domain.Request
	machine *domain.Machine
}

func (w *OpsWorker) claimAndHandle(ctx context.Context) (bool, error) {
	var claim *claimedOp
	err := w.Runner.WithTx(ctx, func(ctx context.Context, repos *store.Repos) error {
		action, err := repos.Actions.ClaimFree(ctx, domain.ActionOther)
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
		claim = &claimedOp{action: action, request: req, machine: machine}
		return nil
	})
	if err != nil || claim == nil {
		return false, err
	}

	spanCtx, span := observability.StartSpan(ctx, "ops_worker.dispatch",
		observability.AttrActionType.String(string(claim.action.Type)),
		observability.AttrActionID.Int64(claim.action.ID),
		observability.AttrRequestID.Int64(claim.request.ID),
		observability.AttrMachineID.Int64(claim.machine.ID),
	)
	started := time.Now()
	result := w.dispatch(spanCtx, claim)
	durationMs := time.Since(started).Milliseconds()
	span.SetAttributes(observability.AttrDurationMs.Int64(durationMs))
	if result.err != nil {
		observability.SetSpanError(span, result.err)
	} else {
		observability.SetSpanOK(span)
	}
	span.End()

	err = w.Runner.WithTx(ctx, func(ctx context.Context, repos *store.Repos) error {
		return w.persist(ctx, repos, claim, result)
	})

	logging.Default().Log(&logging.ActionLog{
		RequestID:  claim.request.ID,
		ActionID:   claim.action.ID,
		MachineID:  claim.machine.ID,
		ActionType: string(claim.action.Type),
		Worker:     w.Name,
		DurationMs: durationMs,
		Success:    result.err == nil,
		Rearmed:    result.rearm,
	})
	metrics.Global().RecordAction(string(claim.action.Type), durationMs, result.err == nil)
	if result.err != nil {
		logging.Op().Error("ops action failed", "action", claim.action.ID, "error", result.err)
	}
	if result.err != nil || result.newState == domain.MachineFailed {
		metrics.Global().RecordMachineFailed()
	}
	if claim.request.Type == domain.RequestUndeploy && result.err == nil {
		metrics.Global().RecordMachineUndeployed()
	}
	if claim.request.Type == domain.RequestTakeSnapshot && result.snapshotOK {
		metrics.Global().RecordSnapshotTaken()
	}
	return true, err
}

// opResult carries the outcome of one adapter dispatch across the gap
// between claim and finalize transactions.
type opResult struct {
	err             error
	newState        domain.MachineState // "" means no change
	aborted         bool
	releaseTicket   bool
	info            hypervisor.MachineInfo
	gotIPs          bool
	rearm           bool // get_info found nothing yet; re-arm for the reaper
	snapshotOK      bool
	attachSnapshot  bool
	detachSnapshot  bool
	gotScreenshot   bool
	screenshotBytes []byte
	screenshotURL   string
}

func (w *OpsWorker) dispatch(ctx context.Context, claim *claimedOp) opResult {
	if !claim.machine.State.CanBeChanged() && claim.request.Type != domain.RequestUndeploy {
		return opResult{aborted: true}
	}

	switch claim.request.Type {
	case domain.RequestUndeploy:
		if err := w.Adapter.Stop(ctx, claim.machine.ProviderID); err != nil {
			return opResult{err: err, newState: domain.MachineFailed}
		}
		if err := w.Adapter.Undeploy(ctx, claim.machine.ProviderID); err != nil {
			return opResult{err: err, newState: domain.MachineFailed}
		}
		return opResult{newState: domain.MachineUndeployed, releaseTicket: true}

	case domain.RequestStart:
		if err := w.Adapter.Start(ctx, claim.machine.ProviderID); err != nil {
			return opResult{err: err, newState: domain.MachineFailed}
		}
		return opResult{newState: domain.MachineRunning}

	case domain.RequestStop:
		if err := w.Adapter.Stop(ctx, claim.machine.ProviderID); err != nil {
			return opResult{err: err, newState: domain.MachineFailed}
		}
		return opResult{newState: domain.MachineStopped, releaseTicket: true}

	case domain.RequestRestart:
		if err := w.Adapter.Reset(ctx, claim.machine.ProviderID); err != nil {
			return opResult{err: err}
		}
		return opResult{}

	case domain.RequestGetInfo:
		return w.getInfo(ctx, claim)

	case domain.RequestTakeScreenshot:
		return w.takeScreenshot(ctx, claim)

	case domain.RequestTakeSnapshot:
		return w.takeSnapshot(ctx, claim)

	case domain.RequestRestoreSnapshot:
		return w.restoreSnapshot(ctx, claim)

	case domain.RequestDeleteSnapshot:
		return w.deleteSnapshot(ctx, claim)

	default:
		return opResult{err: fmt.Errorf("unknown request type %q", claim.request.Type)}
	}
}

func (w *OpsWorker) getInfo(ctx context.Context, claim *claimedOp) opResult {
	info, err := w.Adapter.GetMachineInfo(ctx, claim.machine.ProviderID)
	if err != nil {
		return opResult{err: err}
	}
	if len(info.IPAddresses) > 0 {
		return opResult{info: info, gotIPs: true}
	}
	return opResult{info: info, rearm: true}
}

func (w *OpsWorker) takeScreenshot(ctx context.Context, claim *claimedOp) opResult {
	data, url, err := w.Adapter.TakeScreenshot(ctx, claim.machine.ProviderID, "")
	if err != nil {
		return opResult{err: err}
	}
	return opResult{gotScreenshot: true, screenshotBytes: data, screenshotURL: url}
}

func (w *OpsWorker) takeSnapshot(ctx context.Context, claim *claimedOp) opResult {
	name := fmt.Sprintf("snap-%d", claim.request.SubjectID)
	ok, err := w.Adapter.TakeSnapshot(ctx, claim.machine.ProviderID, name)
	if err != nil {
		return opResult{err: err}
	}
	return opResult{snapshotOK: ok, attachSnapshot: ok}
}

func (w *OpsWorker) restoreSnapshot(ctx context.Context, claim *claimedOp) opResult {
	name := fmt.Sprintf("snap-%d", claim.request.SubjectID)
	ok, err := w.Adapter.RevertSnapshot(ctx, claim.machine.ProviderID, name)
	if err != nil {
		return opResult{err: err}
	}
	return opResult{snapshotOK: ok}
}

func (w *OpsWorker) deleteSnapshot(ctx context.Context, claim *claimedOp) opResult {
	name := fmt.Sprintf("snap-%d", claim.request.SubjectID)
	ok, err := w.Adapter.RemoveSnapshot(ctx, claim.machine.ProviderID, name)
	if err != nil {
		return opResult{err: err}
	}
	return opResult{snapshotOK: ok, detachSnapshot: ok}
}

func (w *OpsWorker) persist(ctx context.Context, repos *store.Repos, claim *claimedOp, result opResult) error {
	req, err := repos.Requests.GetForUpdate(ctx, claim.request.ID)
	if err != nil {
		return err
	}
	act := claim.action

	if result.aborted {
		req.State = domain.RequestAborted
		act.Finish()
		if err := repos.Requests.Save(ctx, req); err != nil {
			return err
		}
		return repos.Actions.Save(ctx, act)
	}

	if result.rearm {
		act.Repetitions--
		act.NextTry = time.Now().Add(jitteredDelay(w.Cfg.GetInfoRetryDelay))
		act.Lock = domain.LockSleeping
		req.State = domain.RequestDelayed
		if err := repos.Requests.Save(ctx, req); err != nil {
			return err
		}
		return repos.Actions.Save(ctx, act)
	}

	if result.releaseTicket {
		if t, err := repos.Tickets.GetByVMMoref(ctx, claim.machine.MachineMoref); err == nil && t != nil {
			t.Release()
			_ = repos.Tickets.Save(ctx, t)
		}
	}

	machine, err := repos.Machines.GetForUpdate(ctx, claim.machine.ID)
	if err != nil {
		return err
	}

	if result.gotIPs {
		machine.IPAddresses = result.info.IPAddresses
	}
	if result.attachSnapshot {
		machine.AttachSnapshot(claim.request.SubjectID)
	}
	if result.detachSnapshot {
		machine.DetachSnapshot(claim.request.SubjectID)
	}

	canPersistState := claim.request.Type.CanChangeMachineState() && result.newState != "" && claim.machine.State.CanBeChanged()
	if canPersistState {
		machine.State = result.newState
	}
	if err := repos.Machines.Save(ctx, machine); err != nil {
		return err
	}

	if result.err != nil || result.newState == domain.MachineFailed {
		req.State = domain.RequestFailed
	} else {
		req.State = domain.RequestSuccess
	}
	if err := repos.Requests.Save(ctx, req); err != nil {
		return err
	}

	if claim.request.Type == domain.RequestTakeScreenshot {
		if err := w.persistScreenshot(ctx, repos, claim, result); err != nil {
			return err
		}
	}
	if claim.request.Type == domain.RequestTakeSnapshot {
		if err := w.persistSnapshot(ctx, repos, claim, result); err != nil {
			return err
		}
	}

	act.Finish()
	if err := repos.Actions.Save(ctx, act); err != nil {
		return err
	}

	if claim.request.Type == domain.RequestGetInfo && result.gotIPs {
		consumed := domain.GetInfoInitialRepetitions - act.Repetitions
		metrics.Global().ObserveGetInfoWait(int64(consumed) * 11)
	}

	if result.newState == domain.MachineRunning && claim.request.Type == domain.RequestStart {
		return enqueueFollowUp(ctx, repos, machine.ID, domain.RequestGetInfo, domain.ActionOther, domain.GetInfoInitialRepetitions)
	}
	return nil
}

// persistScreenshot writes the captured bytes (or external url) onto the
// Screenshot subject an intake call created, flipping its status off
// not_obtained so a polling client sees the capture land.
func (w *OpsWorker) persistScreenshot(ctx context.Context, repos *store.Repos, claim *claimedOp, result opResult) error {
	shot, err := repos.Screenshots.GetForUpdate(ctx, claim.request.SubjectID)
	if err != nil {
		return err
	}
	if result.err != nil || !result.gotScreenshot {
		shot.Status = domain.ScreenshotFailed
		return repos.Screenshots.Save(ctx, shot)
	}
	if result.screenshotURL != "" {
		shot.Store = domain.ScreenshotStoreHCP
		shot.Payload = result.screenshotURL
	} else {
		shot.Store = domain.ScreenshotStoreDB
		shot.Payload = string(result.screenshotBytes)
	}
	shot.Status = domain.ScreenshotReady
	return repos.Screenshots.Save(ctx, shot)
}

// persistSnapshot flips the Snapshot subject a take_snapshot intake call
// created from pending to its terminal status.
func (w *OpsWorker) persistSnapshot(ctx context.Context, repos *store.Repos, claim *claimedOp, result opResult) error {
	snap, err := repos.Snapshots.GetForUpdate(ctx, claim.request.SubjectID)
	if err != nil {
		return err
	}
	if result.err != nil || !result.snapshotOK {
		snap.Status = domain.SnapshotFailed
	} else {
		snap.Status = domain.SnapshotReady
	}
	return repos.Snapshots.Save(ctx, snap)
}
