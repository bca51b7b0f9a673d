// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

package taskqueue

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "pioreactor_taskqueue"

// Collector is a prometheus.Collector that collects metrics about the
// task queue.
type Collector struct {
	pending    prometheus.Gauge
	inProgress prometheus.Gauge
	finished   *prometheus.CounterVec
}

// NewMetricsCollector returns a new Collector.
func NewMetricsCollector() *Collector {
	return &Collector{
		pending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "pending_tasks",
				Help:      "The number of tasks waiting to execute.",
			},
		),
		inProgress: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "in_progress_tasks",
				Help:      "The number of tasks currently executing.",
			},
		),
		finished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "finished_tasks_total",
				Help:      "Tasks reaching a terminal state, by state.",
			}, []string{"state"},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.pending.Describe(ch)
	c.inProgress.Describe(ch)
	c.finished.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.pending.Collect(ch)
	c.inProgress.Collect(ch)
	c.finished.Collect(ch)
}
