// Package metrics holds the Prometheus collectors for forward outcomes and
// spool state.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "notificationforwarder"

// Set is one registry with the forwarder collectors. The daemon shares a
// single Set between runners; one-shot runs create their own.
type Set struct {
	Registry *prometheus.Registry

	Events         *prometheus.CounterVec
	SubmitDuration *prometheus.HistogramVec
	SpoolDepth     *prometheus.GaugeVec
	SpoolDropped   *prometheus.CounterVec
	SpoolRescued   *prometheus.CounterVec
	LastSuccess    *prometheus.GaugeVec
}

// New builds a Set. withRuntime adds the Go and process collectors, which
// only make sense for long running processes.
func New(withRuntime bool) *Set {
	reg := prometheus.NewRegistry()
	if withRuntime {
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	f := promauto.With(reg)
	return &Set{
		Registry: reg,
		Events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Events handled, by runner and outcome.",
		}, []string{"runner", "outcome"}),
		SubmitDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "submit_duration_seconds",
			Help:      "Duration of forwarder submit calls.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"runner"}),
		SpoolDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "spool_depth",
			Help:      "Events waiting in the spool.",
		}, []string{"runner"}),
		SpoolDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spool_dropped_total",
			Help:      "Spooled events dropped for being too old.",
		}, []string{"runner"}),
		SpoolRescued: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spool_rescued_total",
			Help:      "Spooled events delivered by a flush.",
		}, []string{"runner"}),
		LastSuccess: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful submit.",
		}, []string{"runner"}),
	}
}

// Outcome counts one event.
func (s *Set) Outcome(runner, outcome string) {
	if s == nil {
		return
	}
	s.Events.WithLabelValues(runner, outcome).Inc()
}

func (s *Set) ObserveSubmit(runner string, took time.Duration, ok bool) {
	if s == nil {
		return
	}
	s.SubmitDuration.WithLabelValues(runner).Observe(took.Seconds())
	if ok {
		s.LastSuccess.WithLabelValues(runner).SetToCurrentTime()
	}
}

func (s *Set) Flushed(runner string, dropped, rescued, remaining int) {
	if s == nil {
		return
	}
	s.SpoolDropped.WithLabelValues(runner).Add(float64(dropped))
	s.SpoolRescued.WithLabelValues(runner).Add(float64(rescued))
	s.SpoolDepth.WithLabelValues(runner).Set(float64(remaining))
}

func (s *Set) Depth(runner string, n int) {
	if s == nil {
		return
	}
	s.SpoolDepth.WithLabelValues(runner).Set(float64(n))
}

// WriteTextfile writes the registry for the node-exporter textfile collector.
func (s *Set) WriteTextfile(path string) error {
	if s == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := prometheus.WriteToTextfile(path, s.Registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
