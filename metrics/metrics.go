package metrics

// Package metrics counts what happens to tests during a run and exports
// the counts in the Prometheus text format, for a node exporter textfile
// collector to pick up.

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/carlsmedstad/texttest/model"
)

const namespace = "texttest"

// Metrics holds the counters of one run. It implements model.Observer and
// lsf.SubmissionRecorder.
type Metrics struct {
	registry *prometheus.Registry

	transitions *prometheus.CounterVec
	submissions *prometheus.CounterVec
	kills       *prometheus.CounterVec
}

// New creates Metrics backed by a registry of its own.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Count of test state changes by the state entered",
		}, []string{
			"app",
			"state",
		}),
		submissions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lsf_submissions_total",
			Help:      "Count of LSF job submissions by result",
		}, []string{
			"result",
		}),
		kills: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kills_total",
			Help:      "Count of killed tests by reason",
		}, []string{
			"reason",
		}),
	}
}

// StateChanged counts a test state change.
func (m *Metrics) StateChanged(t *model.Test, _, next model.State) {
	m.transitions.WithLabelValues(t.App.Name, string(next.Category())).Inc()
	if next.Category() == model.CategoryKilled {
		m.kills.WithLabelValues(next.BriefText()).Inc()
	}
}

// RecordSubmission counts an LSF submission.
func (m *Metrics) RecordSubmission(result string) {
	m.submissions.WithLabelValues(result).Inc()
}

// WriteTextfile writes every metric to path. The file is replaced
// atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}
