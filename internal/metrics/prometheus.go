package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics wraps prometheus collectors for the VM lifecycle
// control plane.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	// Counters
	actionsTotal       *prometheus.CounterVec
	machinesDeployed   prometheus.Counter
	machinesUndeployed prometheus.Counter
	machinesFailed     prometheus.Counter
	snapshotsTaken     prometheus.Counter
	reaperTimeoutsTotal prometheus.Counter
	reaperRearmsTotal   prometheus.Counter

	// Histograms
	actionDuration     *prometheus.HistogramVec
	deployDuration     *prometheus.HistogramVec
	snapshotDuration   *prometheus.HistogramVec
	getInfoWaitSeconds prometheus.Histogram

	// Gauges
	uptime          prometheus.GaugeFunc
	machinesByState *prometheus.GaugeVec
	freeSlots       prometheus.Gauge
	slotLimit       prometheus.Gauge
	ticketUtilization prometheus.Gauge
	queueDepth      *prometheus.GaugeVec
	hostsInMaintenance prometheus.Gauge
}

var defaultBuckets = []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

var promMetrics *PrometheusMetrics

// InitPrometheus initializes the Prometheus metrics subsystem.
func InitPrometheus(namespace string, buckets []float64) {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	pm := &PrometheusMetrics{
		registry: registry,

		actionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "actions_total",
				Help:      "Total number of Actions dispatched, by type and outcome",
			},
			[]string{"action_type", "outcome"},
		),

		machinesDeployed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "machines_deployed_total",
				Help:      "Total Machines successfully deployed",
			},
		),

		machinesUndeployed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "machines_undeployed_total",
				Help:      "Total Machines undeployed",
			},
		),

		machinesFailed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "machines_failed_total",
				Help:      "Total Machines that reached the failed state",
			},
		),

		snapshotsTaken: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "snapshots_taken_total",
				Help:      "Total snapshots taken",
			},
		),

		reaperTimeoutsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reaper_timeouts_total",
				Help:      "Total Requests timed out by the delayed reaper after exhausting their retry budget",
			},
		),

		reaperRearmsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reaper_rearms_total",
				Help:      "Total sleeping Actions re-armed for another worker attempt",
			},
		),

		actionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "action_dispatch_duration_milliseconds",
				Help:      "Duration of an Action's hypervisor dispatch, by type",
				Buckets:   buckets,
			},
			[]string{"action_type"},
		),

		deployDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "deploy_duration_milliseconds",
				Help:      "Duration from ticket grant to deploy completion",
				Buckets:   []float64{100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
			},
			[]string{"result"},
		),

		snapshotDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "snapshot_operation_duration_milliseconds",
				Help:      "Duration of a snapshot take/restore/remove operation",
				Buckets:   []float64{50, 100, 250, 500, 1000, 2500, 5000},
			},
			[]string{"operation"}, // take, restore, remove
		),

		getInfoWaitSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "get_info_wait_seconds",
				Help:      "Approximate wait time before a get_info Action completes, derived from repetitions consumed",
				Buckets:   []float64{11, 22, 33, 55, 88, 143, 231},
			},
		),

		machinesByState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "machines_by_state",
				Help:      "Current number of Machines in each state",
			},
			[]string{"state"},
		),

		freeSlots: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "capabilities_free_slots",
				Help:      "Current free deploy slots reported by the Capabilities Cache",
			},
		),

		slotLimit: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "capabilities_slot_limit",
				Help:      "Current slot limit reported by the Capabilities Cache",
			},
		),

		ticketUtilization: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "ticket_utilization_ratio",
				Help:      "Ratio of taken to enabled deploy tickets, host-slotted mode only",
			},
		),

		queueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_depth",
				Help:      "Number of free (unclaimed) Actions waiting on a queue, by queue name",
			},
			[]string{"queue"},
		),

		hostsInMaintenance: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "hosts_in_maintenance",
				Help:      "Current number of hosts observed to be in maintenance",
			},
		),
	}

	pm.uptime = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Time since this process started",
		},
		func() float64 {
			return time.Since(StartTime()).Seconds()
		},
	)

	registry.MustRegister(
		pm.actionsTotal,
		pm.machinesDeployed,
		pm.machinesUndeployed,
		pm.machinesFailed,
		pm.snapshotsTaken,
		pm.reaperTimeoutsTotal,
		pm.reaperRearmsTotal,
		pm.actionDuration,
		pm.deployDuration,
		pm.snapshotDuration,
		pm.getInfoWaitSeconds,
		pm.uptime,
		pm.machinesByState,
		pm.freeSlots,
		pm.slotLimit,
		pm.ticketUtilization,
		pm.queueDepth,
		pm.hostsInMaintenance,
	)

	promMetrics = pm
}

// RecordPrometheusAction records one Action dispatch outcome and its duration.
func RecordPrometheusAction(actionType, outcome string, durationMs int64) {
	if promMetrics == nil {
		return
	}
	promMetrics.actionsTotal.WithLabelValues(actionType, outcome).Inc()
	promMetrics.actionDuration.WithLabelValues(actionType).Observe(float64(durationMs))
}

// RecordPrometheusDeploy records a deploy Action's outcome and total duration
// from ticket grant to completion.
func RecordPrometheusDeploy(result string, durationMs int64) {
	if promMetrics == nil {
		return
	}
	if result == "success" {
		promMetrics.machinesDeployed.Inc()
	}
	promMetrics.deployDuration.WithLabelValues(result).Observe(float64(durationMs))
}

// RecordPrometheusUndeploy records a Machine being undeployed.
func RecordPrometheusUndeploy() {
	if promMetrics == nil {
		return
	}
	promMetrics.machinesUndeployed.Inc()
}

// RecordPrometheusMachineFailed records a Machine reaching the failed state.
func RecordPrometheusMachineFailed() {
	if promMetrics == nil {
		return
	}
	promMetrics.machinesFailed.Inc()
}

// RecordPrometheusSnapshotOp records a snapshot take/restore/remove operation.
func RecordPrometheusSnapshotOp(operation string, durationMs int64) {
	if promMetrics == nil {
		return
	}
	if operation == "take" {
		promMetrics.snapshotsTaken.Inc()
	}
	promMetrics.snapshotDuration.WithLabelValues(operation).Observe(float64(durationMs))
}

// RecordPrometheusReaperTimeout records a Request timed out by the delayed reaper.
func RecordPrometheusReaperTimeout() {
	if promMetrics == nil {
		return
	}
	promMetrics.reaperTimeoutsTotal.Inc()
}

// RecordPrometheusReaperRearm records a sleeping Action re-armed for another attempt.
func RecordPrometheusReaperRearm() {
	if promMetrics == nil {
		return
	}
	promMetrics.reaperRearmsTotal.Inc()
}

// RecordPrometheusGetInfoWait records an approximate get_info wait duration in seconds.
func RecordPrometheusGetInfoWait(seconds int64) {
	if promMetrics == nil {
		return
	}
	promMetrics.getInfoWaitSeconds.Observe(float64(seconds))
}

// SetMachinesByState replaces the machines_by_state gauge set.
func SetMachinesByState(counts map[string]int) {
	if promMetrics == nil {
		return
	}
	for state, n := range counts {
		promMetrics.machinesByState.WithLabelValues(state).Set(float64(n))
	}
}

// SetCapabilities publishes the current Capabilities Cache snapshot.
func SetCapabilities(slotLimit, freeSlots int) {
	if promMetrics == nil {
		return
	}
	promMetrics.slotLimit.Set(float64(slotLimit))
	promMetrics.freeSlots.Set(float64(freeSlots))
}

// SetTicketUtilization publishes the host-slotted ticket utilization ratio.
func SetTicketUtilization(taken, enabled int) {
	if promMetrics == nil {
		return
	}
	if enabled == 0 {
		promMetrics.ticketUtilization.Set(0)
		return
	}
	promMetrics.ticketUtilization.Set(float64(taken) / float64(enabled))
}

// SetQueueDepth sets the queue depth gauge for a named queue.
func SetQueueDepth(queueName string, depth int) {
	if promMetrics == nil {
		return
	}
	promMetrics.queueDepth.WithLabelValues(queueName).Set(float64(depth))
}

// SetHostsInMaintenance publishes the current count of hosts in maintenance.
func SetHostsInMaintenance(count int) {
	if promMetrics == nil {
		return
	}
	promMetrics.hostsInMaintenance.Set(float64(count))
}

// PrometheusHandler returns an HTTP handler for Prometheus metrics scraping.
func PrometheusHandler() http.Handler {
	if promMetrics == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("prometheus metrics not initialized"))
		})
	}
	return promhttp.HandlerFor(promMetrics.registry, promhttp.HandlerOpts{})
}

// PrometheusRegistry returns the prometheus registry (for custom collectors).
func PrometheusRegistry() *prometheus.Registry {
	if promMetrics == nil {
		return nil
	}
	return promMetrics.registry
}
