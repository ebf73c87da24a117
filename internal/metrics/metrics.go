// Package metrics provides counters, Prometheus collectors, and export
// helpers for stacktag runs.
package metrics

import (
	"encoding/json"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// 1. Internal State (Source of Truth)
var (
	taggersSucceeded     int64
	taggersFailed        int64
	taggerFallbacks      int64
	probeCommandsSuccess int64
	probeCommandsFailure int64
	imagesTagged         int64
	smokeUnitsPassed     int64
	smokeUnitsFailed     int64
	smokeUnitsSkipped    int64
	lastRun              int64
)

const counterInc int64 = 1

// Registry holds every stacktag collector. It is separate from the default
// registerer so pushes only carry stacktag series.
var Registry = prometheus.NewRegistry()

// 2. Prometheus Collectors
var (
	promTaggers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stacktag_taggers_total",
			Help: "Tagger invocations by tagger name and outcome",
		},
		[]string{"tagger", "status"},
	)
	promFallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stacktag_tagger_fallbacks_total",
			Help: "Times a tagger retried with its alternate package",
		},
	)
	promProbeCommands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stacktag_probe_commands_total",
			Help: "Commands executed inside probe containers",
		},
		[]string{"status"},
	)
	promProbeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stacktag_probe_duration_seconds",
			Help:    "Duration of commands executed inside probe containers",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)
	promImagesTagged = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stacktag_images_tagged_total",
			Help: "Images tagged",
		},
	)
	promSmokeUnits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stacktag_smoke_units_total",
			Help: "Smoke test units by outcome",
		},
		[]string{"status"},
	)
	promLastRun = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stacktag_last_run_timestamp_seconds",
			Help: "Unix timestamp of last run",
		},
	)
)

func init() {
	Registry.MustRegister(
		promTaggers,
		promFallbacks,
		promProbeCommands,
		promProbeDuration,
		promImagesTagged,
		promSmokeUnits,
		promLastRun,
	)
}

// 3. Public API (Updates both Atomic and Prometheus)

// IncTaggerSuccess records a tagger that produced a tag.
func IncTaggerSuccess(tagger string) {
	atomic.AddInt64(&taggersSucceeded, counterInc)
	promTaggers.WithLabelValues(tagger, "success").Inc()
}

// IncTaggerFailure records a tagger that returned an error.
func IncTaggerFailure(tagger string) {
	atomic.AddInt64(&taggersFailed, counterInc)
	promTaggers.WithLabelValues(tagger, "failure").Inc()
}

// IncTaggerFallback records a retry against an alternate package name.
func IncTaggerFallback() {
	atomic.AddInt64(&taggerFallbacks, counterInc)
	promFallbacks.Inc()
}

// IncProbeCommandSuccess counts a probe command that exited 0.
func IncProbeCommandSuccess() {
	atomic.AddInt64(&probeCommandsSuccess, counterInc)
	promProbeCommands.WithLabelValues("success").Inc()
}

// IncProbeCommandFailure counts a probe command that errored or exited non-zero.
func IncProbeCommandFailure() {
	atomic.AddInt64(&probeCommandsFailure, counterInc)
	promProbeCommands.WithLabelValues("failure").Inc()
}

// ObserveProbeDuration records how long a probe command took, in seconds.
func ObserveProbeDuration(seconds float64) {
	promProbeDuration.Observe(seconds)
}

// AddImagesTagged adds n images whose tags were applied.
func AddImagesTagged(n int) {
	atomic.AddInt64(&imagesTagged, int64(n))
	promImagesTagged.Add(float64(n))
}

// IncSmokeUnit records a smoke unit outcome: "passed", "failed" or "skipped".
func IncSmokeUnit(status string) {
	switch status {
	case "passed":
		atomic.AddInt64(&smokeUnitsPassed, counterInc)
	case "failed":
		atomic.AddInt64(&smokeUnitsFailed, counterInc)
	case "skipped":
		atomic.AddInt64(&smokeUnitsSkipped, counterInc)
	default:
		return
	}
	promSmokeUnits.WithLabelValues(status).Inc()
}

// SetLastRun stores the provided time as the last run timestamp and
// updates the corresponding Prometheus gauge.
func SetLastRun(t time.Time) {
	atomic.StoreInt64(&lastRun, t.Unix())
	promLastRun.Set(float64(t.Unix()))
}

// 4. JSON Snapshot Struct

// StatsSnapshot is a snapshot of metrics for JSON encoding.
type StatsSnapshot struct {
	TaggersSucceeded     int64  `json:"taggers_succeeded"`
	TaggersFailed        int64  `json:"taggers_failed"`
	TaggerFallbacks      int64  `json:"tagger_fallbacks"`
	ProbeCommandsSuccess int64  `json:"probe_commands_success"`
	ProbeCommandsFailure int64  `json:"probe_commands_failure"`
	ImagesTagged         int64  `json:"images_tagged"`
	SmokeUnitsPassed     int64  `json:"smoke_units_passed"`
	SmokeUnitsFailed     int64  `json:"smoke_units_failed"`
	SmokeUnitsSkipped    int64  `json:"smoke_units_skipped"`
	LastRun              int64  `json:"last_run_timestamp"`
	LastRunHuman         string `json:"last_run_human"`
}

// GetSnapshot returns a StatsSnapshot with the current values of all
// internal counters and timestamps.
func GetSnapshot() StatsSnapshot {
	ts := atomic.LoadInt64(&lastRun)
	return StatsSnapshot{
		TaggersSucceeded:     atomic.LoadInt64(&taggersSucceeded),
		TaggersFailed:        atomic.LoadInt64(&taggersFailed),
		TaggerFallbacks:      atomic.LoadInt64(&taggerFallbacks),
		ProbeCommandsSuccess: atomic.LoadInt64(&probeCommandsSuccess),
		ProbeCommandsFailure: atomic.LoadInt64(&probeCommandsFailure),
		ImagesTagged:         atomic.LoadInt64(&imagesTagged),
		SmokeUnitsPassed:     atomic.LoadInt64(&smokeUnitsPassed),
		SmokeUnitsFailed:     atomic.LoadInt64(&smokeUnitsFailed),
		SmokeUnitsSkipped:    atomic.LoadInt64(&smokeUnitsSkipped),
		LastRun:              ts,
		LastRunHuman:         time.Unix(ts, 0).UTC().Format(time.RFC3339),
	}
}

// 5. File export

// WriteFile dumps the current metrics to path. A ".prom" suffix selects the
// Prometheus text format read by the node exporter textfile collector; any
// other path gets an indented StatsSnapshot JSON document.
func WriteFile(path string) error {
	if strings.HasSuffix(path, ".prom") {
		return prometheus.WriteToTextfile(path, Registry)
	}
	b, err := json.MarshalIndent(GetSnapshot(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(b, '\n'), 0o644)
}
