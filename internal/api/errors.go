package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/avast/labmanager-unit-vsphere/internal/logging"
	"github.com/avast/labmanager-unit-vsphere/internal/store"
)

// Sentinel errors a transaction callback returns to signal an HTTP
// status other than 500 once control returns to the handler.
var (
	errForbidden              = errors.New("api: caller does not own this resource")
	errMachineLocked          = errors.New("api: machine state does not accept new requests")
	errRestartRequiresRunning = errors.New("api: restart requires the machine to be running")
	errSubjectMachineMismatch = errors.New("api: subject does not belong to this machine")
)

// writeTxError maps an error returned from a Runner.WithTx callback onto
// the appropriate envelope response, since by the time it surfaces here
// the transaction has already rolled back. Anything that falls through
// to the 500 case is also logged against ctx's request correlation id,
// since an envelope exception alone gives an operator nothing to grep.
func writeTxError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeException(w, http.StatusNotFound, "not found")
	case errors.Is(err, errForbidden):
		writeException(w, http.StatusForbidden, err.Error())
	case errors.Is(err, errMachineLocked):
		writeException(w, http.StatusConflict, err.Error())
	case errors.Is(err, errRestartRequiresRunning):
		writeException(w, http.StatusConflict, err.Error())
	case errors.Is(err, errSubjectMachineMismatch):
		writeException(w, http.StatusNotFound, err.Error())
	default:
		logging.OpContext(ctx).Error("unhandled intake transaction error", "error", err)
		writeException(w, http.StatusInternalServerError, err.Error())
	}
}
