package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/avast/labmanager-unit-vsphere/internal/auth"
	"github.com/avast/labmanager-unit-vsphere/internal/domain"
	"github.com/avast/labmanager-unit-vsphere/internal/queue"
	"github.com/avast/labmanager-unit-vsphere/internal/store"
)

// CreateScreenshot is POST /machines/{id}/screenshots: creates a
// Screenshot subject record and enqueues its capture.
func (h *Handler) CreateScreenshot(w http.ResponseWriter, r *http.Request) {
	machineID, ok := pathID(r, "id")
	if !ok {
		writeException(w, http.StatusBadRequest, "invalid machine id")
		return
	}

	var requestID, screenshotID int64
	err := h.Runner.WithTx(r.Context(), func(ctx context.Context, repos *store.Repos) error {
		machine, err := repos.Machines.GetForUpdate(ctx, machineID)
		if err != nil {
			return err
		}
		if !auth.GetIdentity(ctx).CanAccessOwner(machine.Owner) {
			return errForbidden
		}
		if !machine.State.CanBeChanged() {
			return errMachineLocked
		}

		shot := &domain.Screenshot{Machine: machine.ID, Status: domain.ScreenshotNotObtained}
		if err := repos.Screenshots.Save(ctx, shot); err != nil {
			return err
		}
		req := &domain.Request{Type: domain.RequestTakeScreenshot, State: domain.RequestCreated, Machine: machine.ID, SubjectID: shot.ID}
		if err := repos.Requests.Save(ctx, req); err != nil {
			return err
		}
		machine.AttachRequest(req.ID)
		machine.AttachScreenshot(shot.ID)
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
		requestID, screenshotID = req.ID, shot.ID
		return nil
	})
	if err != nil {
		writeTxError(r.Context(), w, err)
		return
	}

	if h.Notifier != nil {
		_ = h.Notifier.Notify(r.Context(), queue.QueueOps)
	}
	writeEnvelope(w, http.StatusAccepted, responseElement{
		Type:        typeRequestID,
		IsLast:      true,
		RequestID:   requestID,
		ReturnValue: map[string]any{"screenshot_id": screenshotID},
	})
}

// GetScreenshot is GET /machines/{id}/screenshots/{sid}: polls the
// capture outcome. A caller sees retry_until_last while the status is
// still not_obtained.
func (h *Handler) GetScreenshot(w http.ResponseWriter, r *http.Request) {
	machineID, ok := pathID(r, "id")
	if !ok {
		writeException(w, http.StatusBadRequest, "invalid machine id")
		return
	}
	sid, ok := pathID(r, "sid")
	if !ok {
		writeException(w, http.StatusBadRequest, "invalid screenshot id")
		return
	}

	var shot *domain.Screenshot
	err := h.Runner.WithTx(r.Context(), func(ctx context.Context, repos *store.Repos) error {
		machine, err := repos.Machines.Get(ctx, machineID)
		if err != nil {
			return err
		}
		if !auth.GetIdentity(ctx).CanAccessOwner(machine.Owner) {
			return errForbidden
		}
		shot, err = repos.Screenshots.Get(ctx, sid)
		if err != nil {
			return err
		}
		if shot.Machine != machineID {
			return errSubjectMachineMismatch
		}
		return nil
	})
	if err != nil {
		writeTxError(r.Context(), w, err)
		return
	}

	switch shot.Status {
	case domain.ScreenshotNotObtained:
		writeRetryUntilLast(w, map[string]any{"status": shot.Status})
	case domain.ScreenshotFailed:
		writeException(w, http.StatusOK, "screenshot capture failed")
	default:
		payload := shot.Payload
		if shot.Store == domain.ScreenshotStoreDB {
			payload = base64.StdEncoding.EncodeToString([]byte(shot.Payload))
		}
		writeReturnValue(w, http.StatusOK, map[string]any{
			"status": shot.Status,
			"store":  shot.Store,
			"data":   payload,
		})
	}
}

type createSnapshotRequest struct {
	Name string `json:"name"`
}

// CreateSnapshot is POST /machines/{id}/snapshots: {name} → enqueues
// take_snapshot.
func (h *Handler) CreateSnapshot(w http.ResponseWriter, r *http.Request) {
	machineID, ok := pathID(r, "id")
	if !ok {
		writeException(w, http.StatusBadRequest, "invalid machine id")
		return
	}
	var body createSnapshotRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == "" {
		writeException(w, http.StatusBadRequest, "a non-empty name is required")
		return
	}

	var requestID, snapshotID int64
	err := h.Runner.WithTx(r.Context(), func(ctx context.Context, repos *store.Repos) error {
		machine, err := repos.Machines.GetForUpdate(ctx, machineID)
		if err != nil {
			return err
		}
		if !auth.GetIdentity(ctx).CanAccessOwner(machine.Owner) {
			return errForbidden
		}
		if !machine.State.CanBeChanged() {
			return errMachineLocked
		}

		snap := &domain.Snapshot{Machine: machine.ID, Name: body.Name, Status: domain.SnapshotPending}
		if err := repos.Snapshots.Save(ctx, snap); err != nil {
			return err
		}
		req := &domain.Request{Type: domain.RequestTakeSnapshot, State: domain.RequestCreated, Machine: machine.ID, SubjectID: snap.ID}
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
		requestID, snapshotID = req.ID, snap.ID
		return nil
	})
	if err != nil {
		writeTxError(r.Context(), w, err)
		return
	}

	if h.Notifier != nil {
		_ = h.Notifier.Notify(r.Context(), queue.QueueOps)
	}
	writeEnvelope(w, http.StatusAccepted, responseElement{
		Type:        typeRequestID,
		IsLast:      true,
		RequestID:   requestID,
		ReturnValue: map[string]any{"snapshot_id": snapshotID},
	})
}

type snapshotActionRequest struct {
	Action string `json:"action"`
}

// RestoreSnapshot is PUT /machines/{id}/snapshots/{sid}: {action: restore}.
func (h *Handler) RestoreSnapshot(w http.ResponseWriter, r *http.Request) {
	machineID, ok := pathID(r, "id")
	if !ok {
		writeException(w, http.StatusBadRequest, "invalid machine id")
		return
	}
	sid, ok := pathID(r, "sid")
	if !ok {
		writeException(w, http.StatusBadRequest, "invalid snapshot id")
		return
	}
	var body snapshotActionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeException(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if trimSpaceLower(body.Action) != "restore" {
		writeException(w, http.StatusBadRequest, "action must be restore")
		return
	}

	requestID, err := h.enqueueSnapshotOp(r, machineID, sid, domain.RequestRestoreSnapshot)
	if err != nil {
		writeTxError(r.Context(), w, err)
		return
	}
	writeRequestID(w, http.StatusAccepted, requestID)
}

// DeleteSnapshot is DELETE /machines/{id}/snapshots/{sid}.
func (h *Handler) DeleteSnapshot(w http.ResponseWriter, r *http.Request) {
	machineID, ok := pathID(r, "id")
	if !ok {
		writeException(w, http.StatusBadRequest, "invalid machine id")
		return
	}
	sid, ok := pathID(r, "sid")
	if !ok {
		writeException(w, http.StatusBadRequest, "invalid snapshot id")
		return
	}

	requestID, err := h.enqueueSnapshotOp(r, machineID, sid, domain.RequestDeleteSnapshot)
	if err != nil {
		writeTxError(r.Context(), w, err)
		return
	}
	writeRequestID(w, http.StatusAccepted, requestID)
}

// enqueueSnapshotOp is the shared body of restore/delete snapshot: both
// reference an existing Snapshot subject by id and create an ops Action
// against it.
func (h *Handler) enqueueSnapshotOp(r *http.Request, machineID, snapshotID int64, reqType domain.RequestType) (int64, error) {
	var requestID int64
	err := h.Runner.WithTx(r.Context(), func(ctx context.Context, repos *store.Repos) error {
		machine, err := repos.Machines.GetForUpdate(ctx, machineID)
		if err != nil {
			return err
		}
		if !auth.GetIdentity(ctx).CanAccessOwner(machine.Owner) {
			return errForbidden
		}
		if !machine.State.CanBeChanged() {
			return errMachineLocked
		}
		snap, err := repos.Snapshots.Get(ctx, snapshotID)
		if err != nil {
			return err
		}
		if snap.Machine != machineID {
			return errSubjectMachineMismatch
		}

		req := &domain.Request{Type: reqType, State: domain.RequestCreated, Machine: machine.ID, SubjectID: snap.ID}
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
