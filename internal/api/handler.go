package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/avast/labmanager-unit-vsphere/internal/auth"
	"github.com/avast/labmanager-unit-vsphere/internal/capabilities"
	"github.com/avast/labmanager-unit-vsphere/internal/config"
	"github.com/avast/labmanager-unit-vsphere/internal/metrics"
	"github.com/avast/labmanager-unit-vsphere/internal/queue"
	"github.com/avast/labmanager-unit-vsphere/internal/store"
)

const apiPrefix = "/api/v4"

// initialActionRepetitions is the repetition budget stamped onto an
// Action created directly by the intake. The get_info follow-ups that
// workers enqueue (worker.enqueueFollowUp) carry
// domain.GetInfoInitialRepetitions instead; the Action types the intake
// creates run to completion or failure on their first dispatch, so this
// budget only matters if such an Action ever needs the Delayed Reaper's
// re-arm path.
const initialActionRepetitions = 3

// Handler groups every HTTP Intake endpoint over its shared
// dependencies: a transaction Runner, the Capabilities Cache consulted
// on deploy admission, and a Notifier that wakes workers without
// waiting for their next poll.
type Handler struct {
	Runner       store.Runner
	Capabilities *capabilities.Cache
	Notifier     queue.Notifier
	Labels       config.LabelsConfig
	Personalised bool
	StartedAt    time.Time
}

// RegisterRoutes wires every endpoint onto mux using Go 1.22+ method and
// wildcard pattern routing.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST "+apiPrefix+"/machines", h.CreateMachine)
	mux.HandleFunc("GET "+apiPrefix+"/machines", h.ListMachines)
	mux.HandleFunc("GET "+apiPrefix+"/machines/{id}", h.GetMachine)
	mux.HandleFunc("DELETE "+apiPrefix+"/machines/{id}", h.UndeployMachine)
	mux.HandleFunc("PUT "+apiPrefix+"/machines/{id}", h.ChangeMachinePower)

	mux.HandleFunc("POST "+apiPrefix+"/machines/{id}/screenshots", h.CreateScreenshot)
	mux.HandleFunc("GET "+apiPrefix+"/machines/{id}/screenshots/{sid}", h.GetScreenshot)

	mux.HandleFunc("POST "+apiPrefix+"/machines/{id}/snapshots", h.CreateSnapshot)
	mux.HandleFunc("PUT "+apiPrefix+"/machines/{id}/snapshots/{sid}", h.RestoreSnapshot)
	mux.HandleFunc("DELETE "+apiPrefix+"/machines/{id}/snapshots/{sid}", h.DeleteSnapshot)

	mux.HandleFunc("GET "+apiPrefix+"/requests/{id}", h.GetRequest)

	mux.HandleFunc("GET "+apiPrefix+"/capabilities", h.GetCapabilities)

	mux.HandleFunc("GET "+apiPrefix+"/hosts", h.ListHosts)
	mux.HandleFunc("GET "+apiPrefix+"/hosts/{id}", h.GetHost)
	mux.HandleFunc("PUT "+apiPrefix+"/hosts/{id}", h.ChangeHostMaintenance)

	mux.HandleFunc("GET "+apiPrefix+"/uptime", h.Uptime)
	mux.HandleFunc("GET /uptime", h.Uptime)

	mux.Handle("GET /metrics", metrics.PrometheusHandler())
	mux.Handle("GET /stats", metrics.Global().JSONHandler())
	mux.Handle("GET /stats/timeseries", metrics.Global().TimeSeriesHandler())
}

// callerSubject returns the authenticated subject, or "" when auth is
// disabled or the caller authenticated anonymously.
func callerSubject(r *http.Request) (subject string, admin bool) {
	id := auth.GetIdentity(r.Context())
	if id == nil {
		return "", false
	}
	return id.Subject, id.Admin
}

// ownerForCreate returns the owner to stamp a newly created Machine
// with: the caller's subject when personalised mode is on, "" otherwise
// (the admin view that predates ownership tagging).
func (h *Handler) ownerForCreate(r *http.Request) string {
	if !h.Personalised {
		return ""
	}
	subject, _ := callerSubject(r)
	return subject
}

// templateAllowed reports whether template matches one of the
// configured allowed templates or the allowed suffix. An empty
// configuration (both unset) accepts every template — the operator
// hasn't opted into restricting labels.
func (h *Handler) templateAllowed(template string) bool {
	if len(h.Labels.AllowedTemplates) == 0 && h.Labels.AllowedTemplateSuffix == "" {
		return true
	}
	for _, t := range h.Labels.AllowedTemplates {
		if t == template {
			return true
		}
	}
	return h.Labels.AllowedTemplateSuffix != "" && strings.HasSuffix(template, h.Labels.AllowedTemplateSuffix)
}

func pathID(r *http.Request, key string) (int64, bool) {
	raw := r.PathValue(key)
	if raw == "" {
		return 0, false
	}
	var id int64
	for _, c := range raw {
		if c < '0' || c > '9' {
			return 0, false
		}
		id = id*10 + int64(c-'0')
	}
	return id, true
}

func trimSpaceLower(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
