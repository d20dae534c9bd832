// Package capabilities implements the Capabilities Cache: the
// {slot_limit, free_slots, labels} snapshot the HTTP Intake consults on
// every deploy admission check.
package capabilities

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/avast/labmanager-unit-vsphere/internal/cache"
	"github.com/avast/labmanager-unit-vsphere/internal/domain"
	"github.com/avast/labmanager-unit-vsphere/internal/metrics"
	"github.com/avast/labmanager-unit-vsphere/internal/store"
)

// Snapshot is the published capabilities view.
type Snapshot struct {
	SlotLimit int      `json:"slot_limit"`
	FreeSlots int      `json:"free_slots"`
	Labels    []string `json:"labels"`
}

// Cache recomputes Snapshot from the store, throttled to at most once
// per CachingPeriod unless utilization crosses CachingEnabledThreshold
// or a caller forces a refresh.
type Cache struct {
	Runner                  store.Runner
	Backend                 cache.Cache // optional; nil means in-process only
	HostsFolderName         string      // non-empty enables host-slotted mode
	SlotLimit               int         // non-host-slotted mode only
	AllowedTemplates        []string
	CachingPeriod           time.Duration
	CachingEnabledThreshold float64 // percent

	mu     sync.Mutex
	last   *Snapshot
	lastAt time.Time
}

const cacheKey = "capabilities:snapshot"

// Get returns the current Snapshot, recomputing it when the cache has
// gone stale, utilization is past the configured threshold, or force is
// true.
func (c *Cache) Get(ctx context.Context, force bool) (*Snapshot, error) {
	c.mu.Lock()
	stale := force || c.last == nil || time.Since(c.lastAt) >= c.CachingPeriod || c.utilizationPast(c.last)
	if !stale {
		snap := *c.last
		c.mu.Unlock()
		return &snap, nil
	}
	c.mu.Unlock()

	snap, err := c.recompute(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.last = snap
	c.lastAt = time.Now()
	c.mu.Unlock()

	metrics.SetCapabilities(snap.SlotLimit, snap.FreeSlots)

	if c.Backend != nil {
		if raw, err := json.Marshal(snap); err == nil {
			_ = c.Backend.Set(ctx, cacheKey, raw, c.CachingPeriod)
		}
	}
	return snap, nil
}

func (c *Cache) utilizationPast(snap *Snapshot) bool {
	if snap == nil || snap.SlotLimit == 0 {
		return false
	}
	used := snap.SlotLimit - snap.FreeSlots
	pct := float64(used) / float64(snap.SlotLimit) * 100
	return pct >= c.CachingEnabledThreshold
}

func (c *Cache) recompute(ctx context.Context) (*Snapshot, error) {
	var snap Snapshot
	snap.Labels = c.AllowedTemplates

	err := c.Runner.WithTx(ctx, func(ctx context.Context, repos *store.Repos) error {
		if c.HostsFolderName != "" {
			limit, free, err := hostSlottedCapacity(ctx, repos)
			if err != nil {
				return err
			}
			snap.SlotLimit, snap.FreeSlots = limit, free
			return nil
		}
		free, err := nonHostSlottedFreeSlots(ctx, repos, c.SlotLimit)
		if err != nil {
			return err
		}
		snap.SlotLimit, snap.FreeSlots = c.SlotLimit, free
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// hostSlottedCapacity computes {slot_limit, free_slots} in host-slotted
// mode: slot_limit is the number of enabled, non-separator tickets (not
// the configured raw SlotLimit, which only bounds K's derivation); once
// the scheduler has filled the pool for the current ready hosts this
// equals K·|R|. free_slots is the number of currently claimable
// tickets, capped at slot_limit.
func hostSlottedCapacity(ctx context.Context, repos *store.Repos) (limit, free int, err error) {
	tickets, err := repos.Tickets.All(ctx)
	if err != nil {
		return 0, 0, err
	}

	enabled := 0
	available := 0
	for _, t := range tickets {
		if t.IsSeparator() {
			continue
		}
		if t.Enabled {
			enabled++
		}
		if t.Available() {
			available++
		}
	}

	limit = enabled
	free = available
	if free > limit {
		free = limit
	}
	return limit, free, nil
}

// nonHostSlottedFreeSlots computes free_slots = max(slotLimit -
// (|running|+|deployed|+|created|), 0).
func nonHostSlottedFreeSlots(ctx context.Context, repos *store.Repos, slotLimit int) (int, error) {
	machines, err := repos.Machines.ListByOwner(ctx, "")
	if err != nil {
		return 0, err
	}
	occupied := 0
	for _, m := range machines {
		switch m.State {
		case domain.MachineRunning, domain.MachineDeployed, domain.MachineCreated:
			occupied++
		}
	}
	free := slotLimit - occupied
	if free < 0 {
		free = 0
	}
	return free, nil
}
