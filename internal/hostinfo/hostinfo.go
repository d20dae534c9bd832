// Package hostinfo implements the Host-Info Obtainer: the loop that
// mirrors hypervisor host state into HostRuntimeInfo rows consumed by
// the Ticket Scheduler.
package hostinfo

import (
	"context"
	"errors"
	"time"

	"github.com/avast/labmanager-unit-vsphere/internal/domain"
	"github.com/avast/labmanager-unit-vsphere/internal/hypervisor"
	"github.com/avast/labmanager-unit-vsphere/internal/logging"
	"github.com/avast/labmanager-unit-vsphere/internal/metrics"
	"github.com/avast/labmanager-unit-vsphere/internal/store"
)

// Obtainer refreshes HostRuntimeInfo from the Hypervisor Adapter every
// Sleep interval, upserting by host name and deleting rows for hosts no
// longer present in the configured folder.
type Obtainer struct {
	Runner     store.Runner
	Adapter    hypervisor.Adapter
	Sleep      time.Duration
	FolderName string
}

// Run blocks until ctx is cancelled, refreshing host info every Sleep
// interval.
func (o *Obtainer) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := o.Refresh(ctx); err != nil {
			logging.Op().Error("host-info refresh failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(o.Sleep):
		}
	}
}

// Refresh performs one obtainer cycle: list hosts, upsert each by name
// defensively (one unreadable host must not drop the batch), then delete
// rows for hosts no longer observed.
func (o *Obtainer) Refresh(ctx context.Context) error {
	views, err := o.Adapter.GetHostsInFolder(ctx, o.FolderName)
	if err != nil {
		return err
	}

	seen := make(map[string]bool, len(views))
	inMaintenance := 0
	for _, view := range views {
		if view.Name == "" {
			logging.Op().Warn("host-info obtainer skipped a host with no name")
			continue
		}
		seen[view.Name] = true
		if view.Maintenance {
			inMaintenance++
		}
		if err := o.upsert(ctx, view); err != nil {
			logging.Op().Warn("host-info obtainer failed to upsert host", "host", view.Name, "error", err)
			continue
		}
	}
	metrics.SetHostsInMaintenance(inMaintenance)

	return o.deleteStale(ctx, seen)
}

func (o *Obtainer) upsert(ctx context.Context, view hypervisor.HostView) error {
	return o.Runner.WithTx(ctx, func(ctx context.Context, repos *store.Repos) error {
		host, err := repos.HostInfos.GetByNameForUpdate(ctx, view.Name)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if host == nil {
			host = &domain.HostRuntimeInfo{Name: view.Name, CreatedAt: time.Now().UTC()}
		}
		host.MoRef = view.MoRef
		host.Maintenance = view.Maintenance
		host.ConnectionState = view.ConnectionState
		host.VMsCount = view.VMsCount
		host.VMsRunningCount = view.VMsRunningCount
		if view.StandbyMode {
			host.StandbyMode = "standby"
		} else {
			host.StandbyMode = ""
		}
		host.LocalTemplates = templateRefs(view.LocalTemplates)
		host.LocalDatastores = datastoreRefs(view.LocalDatastores)
		return repos.HostInfos.Save(ctx, host)
	})
}

func templateRefs(names []string) []domain.TemplateRef {
	refs := make([]domain.TemplateRef, 0, len(names))
	for _, name := range names {
		if name == "" {
			continue
		}
		refs = append(refs, domain.TemplateRef{Name: name})
	}
	return refs
}

func datastoreRefs(names []string) []domain.DatastoreRef {
	refs := make([]domain.DatastoreRef, 0, len(names))
	for _, name := range names {
		if name == "" {
			continue
		}
		refs = append(refs, domain.DatastoreRef{Name: name})
	}
	return refs
}

func (o *Obtainer) deleteStale(ctx context.Context, seen map[string]bool) error {
	return o.Runner.WithTx(ctx, func(ctx context.Context, repos *store.Repos) error {
		hosts, err := repos.HostInfos.All(ctx)
		if err != nil {
			return err
		}
		for _, host := range hosts {
			if seen[host.Name] {
				continue
			}
			if err := repos.HostInfos.Delete(ctx, host.ID); err != nil {
				return err
			}
		}
		return nil
	})
}
