// Package reaper implements the Delayed Reaper: the loop that either
// re-arms a sleeping Action for another worker attempt or times out its
// Request once its retry budget is exhausted.
package reaper

import (
	"context"
	"time"

	"github.com/avast/labmanager-unit-vsphere/internal/domain"
	"github.com/avast/labmanager-unit-vsphere/internal/logging"
	"github.com/avast/labmanager-unit-vsphere/internal/metrics"
	"github.com/avast/labmanager-unit-vsphere/internal/store"
)

// Reaper owns the lock=1 (sleeping) -> {0 (free), -1 (done)} transition.
// It is the only component allowed to move an Action out of sleeping.
type Reaper struct {
	Runner store.Runner
	Sleep  time.Duration
}

// Run blocks until ctx is cancelled, sweeping one sleeping Action whose
// next_try has elapsed every Sleep interval.
func (r *Reaper) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		handled, err := r.reapOne(ctx)
		if err != nil {
			logging.Op().Error("reaper iteration failed", "error", err)
		}

		wait := r.Sleep
		if handled {
			wait = 0 // drain without delay while there's still work ready
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// reapOne claims at most one sleeping Action whose delay has elapsed and
// either times out its Request or re-arms it for immediate pickup.
func (r *Reaper) reapOne(ctx context.Context) (bool, error) {
	handled := false
	timedOut := false
	rearmed := false
	isGetInfo := false
	err := r.Runner.WithTx(ctx, func(ctx context.Context, repos *store.Repos) error {
		action, err := repos.Actions.ClaimSleeping(ctx)
		if err != nil || action == nil {
			return err
		}
		if !action.NextTry.Before(time.Now()) {
			// not due yet; save it unchanged to release the claim (a
			// commit with no field changes, same as the real adapter
			// would do) so the next revolution can reconsider it
			return repos.Actions.Save(ctx, action)
		}

		req, err := repos.Requests.GetForUpdate(ctx, action.Request)
		if err != nil {
			return err
		}
		isGetInfo = req.Type == domain.RequestGetInfo

		if action.Expired() {
			req.State = domain.RequestTimeouted
			action.Lock = domain.LockDone
			timedOut = true
		} else {
			action.Rearm()
			rearmed = true
		}

		if err := repos.Requests.Save(ctx, req); err != nil {
			return err
		}
		if err := repos.Actions.Save(ctx, action); err != nil {
			return err
		}
		handled = true
		return nil
	})
	if err == nil {
		if timedOut {
			metrics.Global().RecordReaperTimeout()
			if isGetInfo {
				metrics.Global().ObserveGetInfoWait(domain.GetInfoInitialRepetitions * 11)
			}
		}
		if rearmed {
			metrics.Global().RecordReaperRearm()
		}
	}
	return handled, err
}
