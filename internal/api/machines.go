package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/avast/labmanager-unit-vsphere/internal/auth"
	"github.com/avast/labmanager-unit-vsphere/internal/domain"
	"github.com/avast/labmanager-unit-vsphere/internal/logging"
	"github.com/avast/labmanager-unit-vsphere/internal/queue"
	"github.com/avast/labmanager-unit-vsphere/internal/store"
)

type createMachineRequest struct {
	Labels []string `json:"labels"`
}

// CreateMachine is POST /machines: validates the template: label,
// forces a Capabilities Cache refresh to enforce slot admission, then
// creates a Machine, its deploy Request, and the deploy Action in one
// transaction.
func (h *Handler) CreateMachine(w http.ResponseWriter, r *http.Request) {
	var body createMachineRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeException(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	probe := &domain.Machine{Labels: body.Labels}
	template, ok := probe.Label("template")
	if !ok {
		writeException(w, http.StatusBadRequest, "a template: label is required")
		return
	}
	if !h.templateAllowed(template) {
		writeException(w, http.StatusBadRequest, fmt.Sprintf("template %q is not an allowed label", template))
		return
	}

	if h.Capabilities != nil {
		snap, err := h.Capabilities.Get(r.Context(), true)
		if err != nil {
			logging.OpContext(r.Context()).Error("capabilities refresh failed", "error", err)
			writeException(w, http.StatusInternalServerError, err.Error())
			return
		}
		if snap.FreeSlots < 1 {
			writeException(w, http.StatusConflict, "no free deploy slot available")
			return
		}
	}

	owner := h.ownerForCreate(r)

	var requestID int64
	err := h.Runner.WithTx(r.Context(), func(ctx context.Context, repos *store.Repos) error {
		machine := &domain.Machine{State: domain.MachineCreated, Labels: body.Labels, Owner: owner}
		if err := repos.Machines.Save(ctx, machine); err != nil {
			return err
		}
		req := &domain.Request{Type: domain.RequestDeploy, State: domain.RequestCreated, Machine: machine.ID}
		if err := repos.Requests.Save(ctx, req); err != nil {
			return err
		}
		machine.AttachRequest(req.ID)
		if err := repos.Machines.Save(ctx, machine); err != nil {
			return err
		}
		action := &domain.Action{
			Type:        domain.ActionDeploy,
			Request:     req.ID,
			Lock:        domain.LockFree,
			Repetitions: initialActionRepetitions,
			NextTry:     domain.FarFutureSentinel(),
		}
		if err := repos.Actions.Save(ctx, action); err != nil {
			return err
		}
		requestID = req.ID
		return nil
	})
	if err != nil {
		writeTxError(r.Context(), w, err)
		return
	}

	if h.Notifier != nil {
		_ = h.Notifier.Notify(r.Context(), queue.QueueDeploy)
	}
	writeRequestID(w, http.StatusAccepted, requestID)
}

// ListMachines is GET /machines?state=…: lists Machines owned by the
// caller, or every Machine for an admin caller.
func (h *Handler) ListMachines(w http.ResponseWriter, r *http.Request) {
	subject, admin := callerSubject(r)
	owner := ""
	if h.Personalised && !admin {
		owner = subject
	}
	stateFilter := domain.MachineState(trimSpaceLower(r.URL.Query().Get("state")))

	var machines []*domain.Machine
	err := h.Runner.WithTx(r.Context(), func(ctx context.Context, repos *store.Repos) error {
		var err error
		machines, err = repos.Machines.ListByOwner(ctx, owner)
		return err
	})
	if err != nil {
		writeTxError(r.Context(), w, err)
		return
	}

	if stateFilter != "" {
		filtered := make([]*domain.Machine, 0, len(machines))
		for _, m := range machines {
			if m.State == stateFilter {
				filtered = append(filtered, m)
			}
		}
		machines = filtered
	}
	writeReturnValue(w, http.StatusOK, machines)
}

// GetMachine is GET /machines/{id}.
func (h *Handler) GetMachine(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeException(w, http.StatusBadRequest, "invalid machine id")
		return
	}

	var machine *domain.Machine
	err := h.Runner.WithTx(r.Context(), func(ctx context.Context, repos *store.Repos) error {
		var err error
		machine, err = repos.Machines.Get(ctx, id)
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
	writeReturnValue(w, http.StatusOK, machine)
}

// UndeployMachine is DELETE /machines/{id}: enqueues an undeploy Request
// against the Machine's existing record.
func (h *Handler) UndeployMachine(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeException(w, http.StatusBadRequest, "invalid machine id")
		return
	}

	requestID, err := h.enqueueOp(r, id, domain.RequestUndeploy, func(domain.MachineState) error { return nil })
	if err != nil {
		writeTxError(r.Context(), w, err)
		return
	}
	writeRequestID(w, http.StatusAccepted, requestID)
}

type changeMachinePowerRequest struct {
	Action string `json:"action"`
}

// ChangeMachinePower is PUT /machines/{id}: {action: start|stop|restart}.
func (h *Handler) ChangeMachinePower(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeException(w, http.StatusBadRequest, "invalid machine id")
		return
	}
	var body changeMachinePowerRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeException(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	var reqType domain.RequestType
	switch trimSpaceLower(body.Action) {
	case "start":
		reqType = domain.RequestStart
	case "stop":
		reqType = domain.RequestStop
	case "restart":
		reqType = domain.RequestRestart
	default:
		writeException(w, http.StatusBadRequest, "action must be one of start, stop, restart")
		return
	}

	requestID, err := h.enqueueOp(r, id, reqType, func(state domain.MachineState) error {
		if reqType == domain.RequestRestart && state != domain.MachineRunning {
			return errRestartRequiresRunning
		}
		return nil
	})
	if err != nil {
		writeTxError(r.Context(), w, err)
		return
	}
	writeRequestID(w, http.StatusAccepted, requestID)
}

// enqueueOp is the shared body of every machine-targeted ops endpoint:
// load-lock the Machine, check ownership and state, run a caller-supplied
// precondition, then create the Request and its Action.
func (h *Handler) enqueueOp(r *http.Request, machineID int64, reqType domain.RequestType, precondition func(domain.MachineState) error) (int64, error) {
	var requestID int64
	err := h.Runner.WithTx(r.Context(), func(ctx context.Context, repos *store.Repos) error {
		machine, err := repos.Machines.GetForUpdate(ctx, machineID)
		if err != nil {
			return err
		}
		if !auth.GetIdentity(ctx).CanAccessOwner(machine.Owner) {
			return errForbidden
		}
		if !machine.State.CanBeChanged() && reqType != domain.RequestUndeploy {
			return errMachineLocked
		}
		if err := precondition(machine.State); err != nil {
			return err
		}

		req := &domain.Request{Type: reqType, State: domain.RequestCreated, Machine: machine.ID}
		if err := repos.Requests.Save(ctx, req); err != nil {
			return err
		}
		machine.AttachRequest(req.ID)
		if err := repos.Machines.Save(ctx, machine); err != nil {
			return err
		}
		action := &domain.Action{
			Type:        domain.ActionOther,
			Request:     req.ID,
			Lock:        domain.LockFree,
			Repetitions: initialActionRepetitions,
			NextTry:     domain.FarFutureSentinel(),
		}
		if err := repos.Actions.Save(ctx, action); err != nil {
			return err
		}
		requestID = req.ID
		return nil
	})
	if err != nil {
		return 0, err
	}
	if h.Notifier != nil {
		_ = h.Notifier.Notify(r.Context(), queue.QueueOps)
	}
	return requestID, nil
}
