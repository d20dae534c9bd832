package api

import (
	"context"
	"net/http"

	"github.com/avast/labmanager-unit-vsphere/internal/auth"
	"github.com/avast/labmanager-unit-vsphere/internal/domain"
	"github.com/avast/labmanager-unit-vsphere/internal/store"
)

// GetRequest is GET /requests/{id}: reports a Request's current state,
// retrying until it reaches a terminal state. A deploy Request's
// response carries the current Capabilities snapshot alongside it; an
// errored terminal state appends a trailing exception element.
func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeException(w, http.StatusBadRequest, "invalid request id")
		return
	}

	var req *domain.Request
	err := h.Runner.WithTx(r.Context(), func(ctx context.Context, repos *store.Repos) error {
		var err error
		req, err = repos.Requests.Get(ctx, id)
		if err != nil {
			return err
		}
		machine, err := repos.Machines.Get(ctx, req.Machine)
		if err != nil {
			return err
		}
		if !auth.GetIdentity(ctx).CanAccessOwner(machine.Owner) {
			return errForbidden
		}
		return nil
	})
	if err != nil {
		writeTxError(r.Context(), w, err)
		return
	}

	body := map[string]any{
		"machine_id":   req.Machine,
		"state":        req.State,
		"request_type": req.Type,
		"modified_at":  req.ModifiedAt,
	}
	if req.Type == domain.RequestDeploy && h.Capabilities != nil {
		if snap, err := h.Capabilities.Get(r.Context(), false); err == nil {
			body["capabilities"] = snap
		}
	}

	if !req.State.HasFinished() {
		writeRetryUntilLast(w, body)
		return
	}
	if req.State.IsError() {
		writeEnvelope(w, http.StatusOK,
			responseElement{Type: typeReturnValue, IsLast: false, ReturnValue: body},
			responseElement{Type: typeException, IsLast: true, Message: "request " + string(req.State)},
		)
		return
	}
	writeReturnValue(w, http.StatusOK, body)
}
