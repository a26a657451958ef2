// Package metrics exposes Prometheus instruments for trigger runs.
//
// The tool is short-lived, so nothing is served over HTTP: a run's registry is
// written out in the node_exporter textfile format when requested.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Trigger outcomes.
const (
	OutcomeInhibited = "inhibited"
	OutcomeUpToDate  = "up_to_date"
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
)

// Handler results.
const (
	ResultSuccess      = "success"
	ResultExitFailure  = "exit_failure"
	ResultSpawnFailure = "spawn_failure"
)

// Recorder holds the instruments of one run. A nil *Recorder is valid and
// records nothing.
type Recorder struct {
	registry *prometheus.Registry

	TriggersTotal      *prometheus.CounterVec
	HandlersTotal      *prometheus.CounterVec
	HandlerDuration    prometheus.Histogram
	OutdatedPathsTotal *prometheus.CounterVec
	LastRunTimestamp   prometheus.Gauge
}

// New registers the instruments on a fresh registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Recorder{
		registry: reg,
		TriggersTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "systrigger_triggers_total",
				Help: "Triggers evaluated, by outcome.",
			},
			[]string{"outcome"},
		),
		HandlersTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "systrigger_handlers_total",
				Help: "Handlers run, by result.",
			},
			[]string{"result"},
		),
		HandlerDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "systrigger_handler_duration_seconds",
				Help:    "Wall time of a single handler.",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
			},
		),
		OutdatedPathsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "systrigger_outdated_paths_total",
				Help: "Outdated paths found, by trigger.",
			},
			[]string{"trigger"},
		),
		LastRunTimestamp: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "systrigger_last_run_timestamp_seconds",
				Help: "Unix time at which the last run finished.",
			},
		),
	}
}

// Registry returns the registry holding the instruments.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

func (r *Recorder) Trigger(outcome string) {
	if r == nil {
		return
	}
	r.TriggersTotal.WithLabelValues(outcome).Inc()
}

func (r *Recorder) Handler(result string, d time.Duration) {
	if r == nil {
		return
	}
	r.HandlersTotal.WithLabelValues(result).Inc()
	r.HandlerDuration.Observe(d.Seconds())
}

func (r *Recorder) OutdatedPaths(trigger string, n int) {
	if r == nil || n == 0 {
		return
	}
	r.OutdatedPathsTotal.WithLabelValues(trigger).Add(float64(n))
}

func (r *Recorder) Finished(at time.Time) {
	if r == nil {
		return
	}
	r.LastRunTimestamp.Set(float64(at.Unix()))
}

// WriteTextfile writes every instrument to path, replacing it atomically.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics %s: %w", path, err)
	}
	return nil
}

// ExitResult maps a handler's exit status to a result label.
func ExitResult(spawnFailed bool, exitCode int) string {
	switch {
	case spawnFailed:
		return ResultSpawnFailure
	case exitCode != 0:
		return ResultExitFailure
	default:
		return ResultSuccess
	}
}
