package api

import (
	"net/http"

	"github.com/avast/labmanager-unit-vsphere/internal/logging"
)

// GetCapabilities is GET /capabilities: {slot_limit, free_slots, labels}.
func (h *Handler) GetCapabilities(w http.ResponseWriter, r *http.Request) {
	if h.Capabilities == nil {
		writeException(w, http.StatusServiceUnavailable, "capabilities are not configured")
		return
	}
	snap, err := h.Capabilities.Get(r.Context(), false)
	if err != nil {
		logging.OpContext(r.Context()).Error("capabilities refresh failed", "error", err)
		writeException(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeReturnValue(w, http.StatusOK, snap)
}
