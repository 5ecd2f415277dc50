package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	promNamespace = "callsite"
	promSubsystem = "engine"
)

// Prometheus holds the Prometheus view of traversal metrics on its own
// registry.
type Prometheus struct {
	registry *prometheus.Registry

	files       *prometheus.CounterVec
	diagnostics *prometheus.CounterVec
	failures    prometheus.Counter
	invocations prometheus.Counter
	candidates  prometheus.Counter
	cache       *prometheus.CounterVec
	duration    prometheus.Histogram
}

// NewPrometheus creates the metric families on a fresh registry.
func NewPrometheus() *Prometheus {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Prometheus{
		registry: reg,
		files: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: promNamespace,
			Subsystem: promSubsystem,
			Name:      "files_total",
			Help:      "Files traversed, by final state.",
		}, []string{"state"}),
		diagnostics: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: promNamespace,
			Subsystem: promSubsystem,
			Name:      "diagnostics_total",
			Help:      "Diagnostics reported, by rule.",
		}, []string{"rule"}),
		failures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: promNamespace,
			Subsystem: promSubsystem,
			Name:      "callback_failures_total",
			Help:      "Rule callbacks that returned an error or panicked.",
		}),
		invocations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: promNamespace,
			Subsystem: promSubsystem,
			Name:      "invocations_total",
			Help:      "Method and constructor invocations visited.",
		}),
		candidates: factory.NewCounter(prometheus.CounterOpts{
			Namespace: promNamespace,
			Subsystem: promSubsystem,
			Name:      "candidates_total",
			Help:      "Rule matches dispatched to callbacks.",
		}),
		cache: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: promNamespace,
			Subsystem: promSubsystem,
			Name:      "cache_lookups_total",
			Help:      "Result cache lookups, by result.",
		}, []string{"result"}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: promNamespace,
			Subsystem: promSubsystem,
			Name:      "file_duration_seconds",
			Help:      "Time spent traversing a single file.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}),
	}
}

// Registry exposes the underlying registry, e.g. for an HTTP handler.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

func (p *Prometheus) observe(e TraversalEvent) {
	p.files.WithLabelValues(e.State).Inc()
	for rule, n := range e.ByRule {
		p.diagnostics.WithLabelValues(rule).Add(float64(n))
	}
	p.failures.Add(float64(e.FailureCount))
	p.invocations.Add(float64(e.Invocations))
	p.candidates.Add(float64(e.Candidates))
	p.cache.WithLabelValues(string(e.CacheResult)).Inc()
	if e.CacheResult != CacheHit {
		p.duration.Observe(e.Duration.Seconds())
	}
}

// WriteTextfile writes the current values in the text exposition format,
// suitable for the node_exporter textfile collector.
func (p *Prometheus) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, p.registry); err != nil {
		return fmt.Errorf("writing prometheus textfile: %w", err)
	}
	return nil
}
