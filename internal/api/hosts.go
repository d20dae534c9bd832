package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/avast/labmanager-unit-vsphere/internal/domain"
	"github.com/avast/labmanager-unit-vsphere/internal/store"
)

// ListHosts is GET /hosts.
func (h *Handler) ListHosts(w http.ResponseWriter, r *http.Request) {
	var hosts []*domain.HostRuntimeInfo
	err := h.Runner.WithTx(r.Context(), func(ctx context.Context, repos *store.Repos) error {
		var err error
		hosts, err = repos.HostInfos.All(ctx)
		return err
	})
	if err != nil {
		writeTxError(r.Context(), w, err)
		return
	}
	writeReturnValue(w, http.StatusOK, hosts)
}

// GetHost is GET /hosts/{id}.
func (h *Handler) GetHost(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeException(w, http.StatusBadRequest, "invalid host id")
		return
	}
	var host *domain.HostRuntimeInfo
	err := h.Runner.WithTx(r.Context(), func(ctx context.Context, repos *store.Repos) error {
		var err error
		host, err = repos.HostInfos.Get(ctx, id)
		return err
	})
	if err != nil {
		writeTxError(r.Context(), w, err)
		return
	}
	writeReturnValue(w, http.StatusOK, host)
}

type hostMaintenanceRequest struct {
	Action string `json:"action"`
}

// ChangeHostMaintenance is PUT /hosts/{id}: {action: enter_maintenance |
// leave_maintenance}. This sets ToBeInMaintenance, the pending
// instruction the Host-Info Obtainer and Ticket Scheduler observe — the
// host's actual Maintenance flag is only ever set by what the Obtainer
// reads back from the hypervisor.
func (h *Handler) ChangeHostMaintenance(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeException(w, http.StatusBadRequest, "invalid host id")
		return
	}
	var body hostMaintenanceRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeException(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	var toBeInMaintenance bool
	switch trimSpaceLower(body.Action) {
	case "enter_maintenance":
		toBeInMaintenance = true
	case "leave_maintenance":
		toBeInMaintenance = false
	default:
		writeException(w, http.StatusBadRequest, "action must be enter_maintenance or leave_maintenance")
		return
	}

	var host *domain.HostRuntimeInfo
	err := h.Runner.WithTx(r.Context(), func(ctx context.Context, repos *store.Repos) error {
		var err error
		host, err = repos.HostInfos.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		host.ToBeInMaintenance = toBeInMaintenance
		return repos.HostInfos.Save(ctx, host)
	})
	if err != nil {
		writeTxError(r.Context(), w, err)
		return
	}
	writeReturnValue(w, http.StatusOK, host)
}
