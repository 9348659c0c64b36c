package flow

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides Prometheus metrics for execution monitoring.
//
// Exposed metrics (namespace "arcflow"):
//
//   - running_executions (gauge): executions currently in flight.
//   - executions_total (counter, labels: status): finished executions.
//   - execution_duration_ms (histogram, labels: status): run wall time.
//   - node_latency_ms (histogram, labels: node_type, status): per-node
//     execution duration, the P50/P95/P99 source for slow-node hunting.
//   - node_executions_total (counter, labels: node_type, status).
//
// Wire-up:
//
//	registry := prometheus.NewRegistry()
//	metrics := flow.NewMetrics(registry)
//	interp := flow.NewInterpreter(nodeReg, emitter, flow.Options{Metrics: metrics})
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
type Metrics struct {
	runningExecutions prometheus.Gauge
	executionsTotal   *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
	nodeLatency       *prometheus.HistogramVec
	nodeExecutions    *prometheus.CounterVec
}

// NewMetrics creates and registers all execution metrics. A nil registry
// falls back to the Prometheus default registerer.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	latencyBuckets := []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000}

	return &Metrics{
		runningExecutions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "arcflow",
			Name:      "running_executions",
			Help:      "Number of workflow executions currently in flight",
		}),
		executionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arcflow",
			Name:      "executions_total",
			Help:      "Finished workflow executions by final status",
		}, []string{"status"}),
		executionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "arcflow",
			Name:      "execution_duration_ms",
			Help:      "Workflow execution wall time in milliseconds",
			Buckets:   []float64{10, 50, 100, 500, 1000, 5000, 10000, 60000},
		}, []string{"status"}),
		nodeLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "arcflow",
			Name:      "node_latency_ms",
			Help:      "Node execution duration in milliseconds",
			Buckets:   latencyBuckets,
		}, []string{"node_type", "status"}),
		nodeExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arcflow",
			Name:      "node_executions_total",
			Help:      "Node invocations by node type and outcome",
		}, []string{"node_type", "status"}),
	}
}

// ExecutionStarted records a run entering flight.
func (m *Metrics) ExecutionStarted() {
	m.runningExecutions.Inc()
}

// ExecutionFinished records a run leaving flight with its final status.
func (m *Metrics) ExecutionFinished(status string, duration time.Duration) {
	m.runningExecutions.Dec()
	m.executionsTotal.WithLabelValues(status).Inc()
	m.executionDuration.WithLabelValues(status).Observe(float64(duration.Milliseconds()))
}

// NodeExecuted records one node invocation.
func (m *Metrics) NodeExecuted(nodeType, status string, duration time.Duration) {
	m.nodeLatency.WithLabelValues(nodeType, status).Observe(float64(duration.Milliseconds()))
	m.nodeExecutions.WithLabelValues(nodeType, status).Inc()
}
