// Package pipelinemetrics exposes the worker pools' queue depth, idle
// state and retry counts as Prometheus metrics.
package pipelinemetrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the gauges/counters every pool reports into.
type Metrics struct {
	QueueDepth  *prometheus.GaugeVec
	Idle        *prometheus.GaugeVec
	TasksDone   *prometheus.CounterVec
	RetryCount  *prometheus.CounterVec
}

// New constructs and registers the pipeline's metrics against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "catalogizer",
			Subsystem: "parser",
			Name:      "queue_depth",
			Help:      "Number of tasks currently queued per pool.",
		}, []string{"pool"}),
		Idle: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "catalogizer",
			Subsystem: "parser",
			Name:      "pool_idle",
			Help:      "1 when a pool is idle, 0 otherwise.",
		}, []string{"pool"}),
		TasksDone: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "catalogizer",
			Subsystem: "parser",
			Name:      "tasks_done_total",
			Help:      "Tasks completed per pool and outcome status.",
		}, []string{"pool", "status"}),
		RetryCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "catalogizer",
			Subsystem: "parser",
			Name:      "retries_total",
			Help:      "Retry attempts per pool.",
		}, []string{"pool"}),
	}
	reg.MustRegister(m.QueueDepth, m.Idle, m.TasksDone, m.RetryCount)
	return m
}

// SetIdle records a pool's idle transition.
func (m *Metrics) SetIdle(pool string, idle bool) {
	v := 0.0
	if idle {
		v = 1.0
	}
	m.Idle.WithLabelValues(pool).Set(v)
}

// ObserveDone records one task outcome.
func (m *Metrics) ObserveDone(pool, status string) {
	m.TasksDone.WithLabelValues(pool, status).Inc()
}
