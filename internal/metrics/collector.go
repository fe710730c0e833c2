// Package metrics provides internal Prometheus metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Collector registers and updates the engine's Prometheus metrics.
type Collector struct {
	tasksTotal      *prometheus.CounterVec
	taskDuration    *prometheus.HistogramVec
	roundsCompleted *prometheus.CounterVec
	plansTotal      *prometheus.CounterVec
	performance     *prometheus.GaugeVec

	stateStoreOps *prometheus.CounterVec

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector creates a collector registered on its own registry. Using
// a dedicated registry keeps tests isolated from the global default.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := func(c prometheus.Collector) {
		reg.MustRegister(c)
	}

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.tasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Total number of compute-plan tasks executed",
		},
		[]string{"kind", "status"},
	)
	factory(c.tasksTotal)

	c.taskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Compute-plan task duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		},
		[]string{"kind"},
	)
	factory(c.taskDuration)

	c.roundsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_completed_total",
			Help:      "Total number of completed federated rounds",
		},
		[]string{"strategy"},
	)
	factory(c.roundsCompleted)

	c.plansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plans_total",
			Help:      "Total number of compute plans by final status",
		},
		[]string{"status"},
	)
	factory(c.plansTotal)

	c.performance = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "round_performance",
			Help:      "Latest metric value measured at an evaluation round",
		},
		[]string{"plan", "org", "metric"},
	)
	factory(c.performance)

	c.stateStoreOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_store_ops_total",
			Help:      "Total number of state store operations",
		},
		[]string{"op", "status"},
	)
	factory(c.stateStoreOps)

	c.httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	factory(c.httpRequestsTotal)

	c.httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
	factory(c.httpRequestDuration)

	return c
}

// ObserveTask records one finished task.
func (c *Collector) ObserveTask(kind, status string, duration time.Duration) {
	c.tasksTotal.WithLabelValues(kind, status).Inc()
	c.taskDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RoundCompleted records one completed round.
func (c *Collector) RoundCompleted(strategy string) {
	c.roundsCompleted.WithLabelValues(strategy).Inc()
}

// PlanFinished records the final status of a plan.
func (c *Collector) PlanFinished(status string) {
	c.plansTotal.WithLabelValues(status).Inc()
}

// ObservePerformance records a metric value measured at an evaluation round.
func (c *Collector) ObservePerformance(plan, org, metric string, value float64) {
	c.performance.WithLabelValues(plan, org, metric).Set(value)
}

// ObserveStateStoreOp records one state store operation.
func (c *Collector) ObserveStateStoreOp(op, status string) {
	c.stateStoreOps.WithLabelValues(op, status).Inc()
}

// ObserveHTTPRequest records one HTTP request.
func (c *Collector) ObserveHTTPRequest(method, path, status string, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
