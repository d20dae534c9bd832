// Package metrics collects and exposes runtime observability data for
// the VM lifecycle control plane.
//
// # Design rationale
//
// Two metric stores coexist in this package:
//
//  1. The in-process Metrics struct (per-action-type counters + time
//     series) for a lightweight JSON /metrics endpoint with no
//     external dependency.
//  2. A Prometheus registry (prometheus.go) for scraping by external
//     monitoring systems (Grafana, Alertmanager, etc.).
//
// Keeping both lets a bare `serve --standalone` deployment expose
// metrics without a Prometheus sidecar while still supporting it when
// one is present.
//
// # Concurrency — hot path
//
// RecordAction is called by every worker loop on every dispatched
// Action and must be fast. It uses atomic increments for global
// counters and dispatches a lightweight event onto a buffered channel
// (tsChan) for the time-series worker to process asynchronously,
// avoiding any lock on the hot path.
//
// # Invariants
//
//   - TotalDispatches == SuccessDispatches + FailedDispatches.
//   - The time-series ring buffer holds at most timeSeriesBucketCount
//     buckets (24 * 60 = 1440 for the last 24 hours at 1-minute
//     granularity).
//   - tsChan capacity is 8192 events; events dropped when full are
//     counted in tsDroppedEvents for observability.
package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

const (
	timeSeriesBucketDuration = time.Minute
	timeSeriesBucketCount    = 24 * 60
)

// TimeSeriesBucket stores metrics for a single time bucket.
type TimeSeriesBucket struct {
	Timestamp    time.Time
	Dispatches   int64
	Errors       int64
	TotalLatency int64
	Count        int64 // for calculating avg
}

// Metrics collects and exposes Action-dispatch metrics.
type Metrics struct {
	TotalDispatches   atomic.Int64
	SuccessDispatches atomic.Int64
	FailedDispatches  atomic.Int64

	TotalLatencyMs atomic.Int64
	MinLatencyMs   atomic.Int64
	MaxLatencyMs   atomic.Int64

	MachinesDeployed   atomic.Int64
	MachinesUndeployed atomic.Int64
	MachinesFailed     atomic.Int64
	SnapshotsTaken     atomic.Int64
	ReaperTimeouts     atomic.Int64
	ReaperRearms       atomic.Int64

	GetInfoWaitObservations atomic.Int64
	GetInfoWaitTotalSeconds atomic.Int64

	// Per-action-type metrics
	actionTypeMetrics sync.Map // action type -> *ActionTypeMetrics

	// Time-series data (minute buckets for last 24 hours)
	timeSeriesMu    sync.RWMutex
	timeSeries      []*TimeSeriesBucket
	tsChan          chan timeSeriesEvent
	tsDroppedEvents atomic.Int64

	startTime time.Time
}

// timeSeriesEvent is sent over a channel to avoid write-lock contention on the hot path
type timeSeriesEvent struct {
	durationMs int64
	isError    bool
}

// ActionTypeMetrics tracks dispatch metrics for a single Action type.
type ActionTypeMetrics struct {
	Dispatches atomic.Int64
	Successes  atomic.Int64
	Failures   atomic.Int64
	TotalMs    atomic.Int64
	MinMs      atomic.Int64
	MaxMs      atomic.Int64
}

// Global metrics instance
var global = &Metrics{startTime: time.Now()}

func init() {
	global.MinLatencyMs.Store(int64(^uint64(0) >> 1)) // Max int64
	global.tsChan = make(chan timeSeriesEvent, 8192)
	global.initTimeSeries()
	go global.processTimeSeriesLoop()
}

// initTimeSeries initializes minute-level buckets for the last 24 hours.
func (m *Metrics) initTimeSeries() {
	m.timeSeriesMu.Lock()
	defer m.timeSeriesMu.Unlock()

	now := time.Now().Truncate(timeSeriesBucketDuration)
	m.timeSeries = make([]*TimeSeriesBucket, timeSeriesBucketCount)
	for i := 0; i < timeSeriesBucketCount; i++ {
		m.timeSeries[i] = &TimeSeriesBucket{
			Timestamp: now.Add(time.Duration(i-(timeSeriesBucketCount-1)) * timeSeriesBucketDuration),
		}
	}
}

// Global returns the global metrics instance
func Global() *Metrics {
	return global
}

// StartTime returns the time when the metrics system was initialized
func StartTime() time.Time {
	return global.startTime
}

// RecordAction records one dispatched Action's type, duration, and
// outcome. Called by every worker loop (deploy, ops) on each Action it
// claims.
func (m *Metrics) RecordAction(actionType string, durationMs int64, success bool) {
	m.TotalDispatches.Add(1)

	if success {
		m.SuccessDispatches.Add(1)
	} else {
		m.FailedDispatches.Add(1)
	}

	m.TotalLatencyMs.Add(durationMs)
	updateMin(&m.MinLatencyMs, durationMs)
	updateMax(&m.MaxLatencyMs, durationMs)

	atm := m.getActionTypeMetrics(actionType)
	atm.Dispatches.Add(1)
	if success {
		atm.Successes.Add(1)
	} else {
		atm.Failures.Add(1)
	}
	atm.TotalMs.Add(durationMs)
	updateMin(&atm.MinMs, durationMs)
	updateMax(&atm.MaxMs, durationMs)

	m.recordTimeSeries(durationMs, !success)

	outcome := "success"
	if !success {
		outcome = "failed"
	}
	RecordPrometheusAction(actionType, outcome, durationMs)
}

// recordTimeSeries enqueues a time-series event for async processing,
// avoiding a write-lock on the hot dispatch path.
func (m *Metrics) recordTimeSeries(durationMs int64, isError bool) {
	select {
	case m.tsChan <- timeSeriesEvent{durationMs: durationMs, isError: isError}:
	default:
		m.tsDroppedEvents.Add(1)
	}
}

// processTimeSeriesLoop drains tsChan and applies events under a write lock.
func (m *Metrics) processTimeSeriesLoop() {
	for evt := range m.tsChan {
		m.applyTimeSeriesEvent(evt.durationMs, evt.isError)
	}
}

// applyTimeSeriesEvent updates the time-series buckets (must be called from a single goroutine).
func (m *Metrics) applyTimeSeriesEvent(durationMs int64, isError bool) {
	m.timeSeriesMu.Lock()
	defer m.timeSeriesMu.Unlock()

	now := time.Now().Truncate(timeSeriesBucketDuration)

	// Check if we need to rotate buckets
	if len(m.timeSeries) > 0 {
		lastBucket := m.timeSeries[len(m.timeSeries)-1]
		bucketsDiff := int(now.Sub(lastBucket.Timestamp) / timeSeriesBucketDuration)

		if bucketsDiff > 0 {
			if bucketsDiff >= timeSeriesBucketCount {
				m.timeSeries = make([]*TimeSeriesBucket, timeSeriesBucketCount)
				for i := 0; i < timeSeriesBucketCount; i++ {
					m.timeSeries[i] = &TimeSeriesBucket{
						Timestamp: now.Add(time.Duration(i-(timeSeriesBucketCount-1)) * timeSeriesBucketDuration),
					}
				}
			} else {
				m.timeSeries = m.timeSeries[bucketsDiff:]
				for i := 0; i < bucketsDiff; i++ {
					m.timeSeries = append(m.timeSeries, &TimeSeriesBucket{
						Timestamp: lastBucket.Timestamp.Add(time.Duration(i+1) * timeSeriesBucketDuration),
					})
				}
			}
		}
	}

	// Record to current bucket
	if len(m.timeSeries) > 0 {
		bucket := m.timeSeries[len(m.timeSeries)-1]
		bucket.Dispatches++
		bucket.TotalLatency += durationMs
		bucket.Count++
		if isError {
			bucket.Errors++
		}
	}
}

// RecordMachineDeployed records a Machine successfully deployed.
func (m *Metrics) RecordMachineDeployed() {
	m.MachinesDeployed.Add(1)
	RecordPrometheusDeploy("success", 0)
}

// RecordMachineUndeployed records a Machine undeployed.
func (m *Metrics) RecordMachineUndeployed() {
	m.MachinesUndeployed.Add(1)
	RecordPrometheusUndeploy()
}

// RecordMachineFailed records a Machine reaching the failed state.
func (m *Metrics) RecordMachineFailed() {
	m.MachinesFailed.Add(1)
	RecordPrometheusMachineFailed()
}

// RecordSnapshotTaken records a snapshot being taken.
func (m *Metrics) RecordSnapshotTaken() {
	m.SnapshotsTaken.Add(1)
	RecordPrometheusSnapshotOp("take", 0)
}

// RecordReaperTimeout records a Request timed out by the delayed
// reaper after exhausting its retry budget.
func (m *Metrics) RecordReaperTimeout() {
	m.ReaperTimeouts.Add(1)
	RecordPrometheusReaperTimeout()
}

// RecordReaperRearm records a sleeping Action re-armed for another
// worker attempt.
func (m *Metrics) RecordReaperRearm() {
	m.ReaperRearms.Add(1)
	RecordPrometheusReaperRearm()
}

// ObserveGetInfoWait records an approximate get_info wait duration,
// computed by the caller as (initialRepetitions-action.Repetitions)*11
// seconds: a cheap proxy for elapsed wait time that avoids stamping a
// start timestamp onto every re-armed Action.
func (m *Metrics) ObserveGetInfoWait(seconds int64) {
	m.GetInfoWaitObservations.Add(1)
	m.GetInfoWaitTotalSeconds.Add(seconds)
	RecordPrometheusGetInfoWait(seconds)
}

func (m *Metrics) getActionTypeMetrics(actionType string) *ActionTypeMetrics {
	if v, ok := m.actionTypeMetrics.Load(actionType); ok {
		return v.(*ActionTypeMetrics)
	}

	atm := &ActionTypeMetrics{}
	atm.MinMs.Store(int64(^uint64(0) >> 1))
	actual, _ := m.actionTypeMetrics.LoadOrStore(actionType, atm)
	return actual.(*ActionTypeMetrics)
}

// GetActionTypeMetrics returns the metrics for a specific Action type
// (or nil if none recorded yet).
func (m *Metrics) GetActionTypeMetrics(actionType string) *ActionTypeMetrics {
	if v, ok := m.actionTypeMetrics.Load(actionType); ok {
		return v.(*ActionTypeMetrics)
	}
	return nil
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (m *Metrics) Snapshot() map[string]interface{} {
	total := m.TotalDispatches.Load()
	avgLatency := float64(0)
	if total > 0 {
		avgLatency = float64(m.TotalLatencyMs.Load()) / float64(total)
	}

	minLatency := m.MinLatencyMs.Load()
	if minLatency == int64(^uint64(0)>>1) {
		minLatency = 0
	}

	result := map[string]interface{}{
		"uptime_seconds": int64(time.Since(m.startTime).Seconds()),
		"actions": map[string]interface{}{
			"total":   total,
			"success": m.SuccessDispatches.Load(),
			"failed":  m.FailedDispatches.Load(),
		},
		"latency_ms": map[string]interface{}{
			"avg": avgLatency,
			"min": minLatency,
			"max": m.MaxLatencyMs.Load(),
		},
		"machines": map[string]interface{}{
			"deployed":   m.MachinesDeployed.Load(),
			"undeployed": m.MachinesUndeployed.Load(),
			"failed":     m.MachinesFailed.Load(),
		},
		"snapshots_taken":   m.SnapshotsTaken.Load(),
		"reaper_timeouts":   m.ReaperTimeouts.Load(),
		"reaper_rearms":     m.ReaperRearms.Load(),
		"ts_dropped_events": m.tsDroppedEvents.Load(),
		"get_info_wait": map[string]interface{}{
			"observations":  m.GetInfoWaitObservations.Load(),
			"total_seconds": m.GetInfoWaitTotalSeconds.Load(),
		},
	}

	return result
}

// ActionTypeStats returns per-Action-type dispatch metrics.
func (m *Metrics) ActionTypeStats() map[string]interface{} {
	result := make(map[string]interface{})

	m.actionTypeMetrics.Range(func(key, value interface{}) bool {
		actionType := key.(string)
		atm := value.(*ActionTypeMetrics)

		total := atm.Dispatches.Load()
		avgMs := float64(0)
		if total > 0 {
			avgMs = float64(atm.TotalMs.Load()) / float64(total)
		}

		minMs := atm.MinMs.Load()
		if minMs == int64(^uint64(0)>>1) {
			minMs = 0
		}

		result[actionType] = map[string]interface{}{
			"dispatches": total,
			"successes":  atm.Successes.Load(),
			"failures":   atm.Failures.Load(),
			"avg_ms":     avgMs,
			"min_ms":     minMs,
			"max_ms":     atm.MaxMs.Load(),
		}
		return true
	})

	return result
}

// JSONHandler returns an HTTP handler that exposes metrics in JSON format
func (m *Metrics) JSONHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		result := m.Snapshot()
		result["action_types"] = m.ActionTypeStats()
		json.NewEncoder(w).Encode(result)
	})
}

// TimeSeries returns minute-level time-series data for the last 24 hours.
func (m *Metrics) TimeSeries() []map[string]interface{} {
	m.timeSeriesMu.RLock()
	defer m.timeSeriesMu.RUnlock()

	result := make([]map[string]interface{}, len(m.timeSeries))
	for i, bucket := range m.timeSeries {
		avgDuration := float64(0)
		if bucket.Count > 0 {
			avgDuration = float64(bucket.TotalLatency) / float64(bucket.Count)
		}
		result[i] = map[string]interface{}{
			"timestamp":    bucket.Timestamp.Format(time.RFC3339),
			"dispatches":   bucket.Dispatches,
			"errors":       bucket.Errors,
			"avg_duration": avgDuration,
		}
	}
	return result
}

// TimeSeriesHandler returns an HTTP handler for time-series metrics
func (m *Metrics) TimeSeriesHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(m.TimeSeries())
	})
}

// Helper functions

func updateMin(target *atomic.Int64, value int64) {
	for {
		old := target.Load()
		if value >= old {
			return
		}
		if target.CompareAndSwap(old, value) {
			return
		}
	}
}

func updateMax(target *atomic.Int64, value int64) {
	for {
		old := target.Load()
		if value <= old {
			return
		}
		if target.CompareAndSwap(old, value) {
			return
		}
	}
}
