// Package worker implements the Deploy Worker and Ops Worker loops: the
// two claim-and-dispatch processes that drain the Action queue against
// the Hypervisor Adapter.
package worker

import (
	"context"
	"math/rand"
	"time"

	"github.com/avast/labmanager-unit-vsphere/internal/domain"
	"github.com/avast/labmanager-unit-vsphere/internal/hypervisor"
	"github.com/avast/labmanager-unit-vsphere/internal/logging"
	"github.com/avast/labmanager-unit-vsphere/internal/store"
)

// loopConfig is the subset of worker tuning shared by both loops.
type loopConfig struct {
	initialSleep time.Duration
	idleSleep    time.Duration
	idleCounter  int
}

// runClaimLoop is the generic "claim one, handle it, otherwise count
// idle iterations toward an adapter keep-alive" loop both workers share.
// claim returns (nil, nil) when skip-locked finds nothing to do.
func runClaimLoop(ctx context.Context, cfg loopConfig, notifications <-chan struct{}, adapter hypervisor.Adapter, claimAndHandle func(ctx context.Context) (handled bool, err error)) error {
	idle := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		handled, err := claimAndHandle(ctx)
		if err != nil {
			logging.Op().Error("worker iteration failed", "error", err)
		}

		if handled {
			idle = 0
			continue
		}

		idle++
		sleep := cfg.initialSleep
		if idle >= cfg.idleCounter {
			if err := adapter.Idle(ctx); err != nil {
				logging.Op().Warn("adapter idle keep-alive failed", "error", err)
			}
			sleep = cfg.idleSleep
		}

		select {
		case <-ctx.Done():
			return nil
		case <-notifications:
		case <-time.After(sleep):
		}
	}
}

// jitteredDelay returns a uniform random duration in [delay, delay+3)
// seconds, the get_info retry backoff.
func jitteredDelay(delaySeconds int) time.Duration {
	extra := rand.Intn(3)
	return time.Duration(delaySeconds+extra) * time.Second
}

// enqueueFollowUp creates a new Request+Action pair for a follow-up
// operation against machineID (used for the post-deploy get_info and
// post-start get_info enqueues).
func enqueueFollowUp(ctx context.Context, repos *store.Repos, machineID int64, reqType domain.RequestType, actionType domain.ActionType, repetitions int) error {
	req := &domain.Request{Type: reqType, State: domain.RequestCreated, Machine: machineID}
	if err := repos.Requests.Save(ctx, req); err != nil {
		return err
	}
	action := &domain.Action{
		Type:        actionType,
		Request:     req.ID,
		Lock:        domain.LockFree,
		Repetitions: repetitions,
		NextTry:     domain.FarFutureSentinel(),
	}
	return repos.Actions.Save(ctx, action)
}
