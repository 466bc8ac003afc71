/*
Copyright (c) Edgeless Systems GmbH

SPDX-License-Identifier: BUSL-1.1
*/

package core

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the Prometheus metrics of the pipeline orchestrator.
type Metrics struct {
	runs            *prometheus.CounterVec
	stageFailures   *prometheus.CounterVec
	partitionLocked prometheus.Gauge
}

// NewMetrics creates the orchestrator metrics using the given factory. A
// nil factory disables metric collection.
func NewMetrics(factory *promauto.Factory, namespace string) *Metrics {
	if factory == nil {
		return nil
	}
	return &Metrics{
		runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provision_runs_total",
				Help:      "Number of provisioning pipeline runs by outcome.",
			},
			[]string{"outcome"},
		),
		stageFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stage_failures_total",
				Help:      "Number of pipeline stage failures by stage.",
			},
			[]string{"stage"},
		),
		partitionLocked: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "partition_locked",
				Help:      "Whether the target OTP partition of the current device is locked.",
			},
		),
	}
}

// CountRun counts a terminated pipeline run.
func (m *Metrics) CountRun(outcome Outcome) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome.String()).Inc()
}

// CountStageFailure counts a failed pipeline stage.
func (m *Metrics) CountStageFailure(stage string) {
	if m == nil {
		return
	}
	m.stageFailures.WithLabelValues(stage).Inc()
}

// SetLocked records the observed partition lock state.
func (m *Metrics) SetLocked(locked bool) {
	if m == nil {
		return
	}
	if locked {
		m.partitionLocked.Set(1)
	} else {
		m.partitionLocked.Set(0)
	}
}
