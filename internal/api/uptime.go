package api

import (
	"net/http"
	"time"
)

// Uptime is GET /uptime: the liveness probe.
func (h *Handler) Uptime(w http.ResponseWriter, r *http.Request) {
	writeReturnValue(w, http.StatusOK, map[string]any{
		"started_at":     h.StartedAt,
		"uptime_seconds": time.Since(h.StartedAt).Seconds(),
	})
}
