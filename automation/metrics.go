package automation

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SchedulerMetrics provides Prometheus metrics for the cron scheduler.
//
// Exposed metrics (namespace "arcflow", subsystem "scheduler"):
//
//   - active_jobs (gauge): armed cron jobs.
//   - ticks_total (counter): ticks that entered firing.
//   - skipped_ticks_total (counter): ticks dropped by single-flight.
//   - firings_total (counter, labels: outcome): completed firings.
//   - firing_duration_ms (histogram): callback wall time.
type SchedulerMetrics struct {
	activeJobs     prometheus.Gauge
	ticksTotal     prometheus.Counter
	skippedTotal   prometheus.Counter
	firingsTotal   *prometheus.CounterVec
	firingDuration prometheus.Histogram
}

// NewSchedulerMetrics creates and registers the scheduler metrics. A nil
// registry falls back to the Prometheus default registerer.
func NewSchedulerMetrics(registry prometheus.Registerer) *SchedulerMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &SchedulerMetrics{
		activeJobs: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "arcflow",
			Subsystem: "scheduler",
			Name:      "active_jobs",
			Help:      "Armed cron jobs",
		}),
		ticksTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "arcflow",
			Subsystem: "scheduler",
			Name:      "ticks_total",
			Help:      "Cron ticks that entered firing",
		}),
		skippedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "arcflow",
			Subsystem: "scheduler",
			Name:      "skipped_ticks_total",
			Help:      "Cron ticks dropped because the automation was already firing",
		}),
		firingsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arcflow",
			Subsystem: "scheduler",
			Name:      "firings_total",
			Help:      "Completed firings by outcome",
		}, []string{"outcome"}),
		firingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "arcflow",
			Subsystem: "scheduler",
			Name:      "firing_duration_ms",
			Help:      "Firing callback wall time in milliseconds",
			Buckets:   []float64{10, 50, 100, 500, 1000, 5000, 10000, 60000},
		}),
	}
}

func (m *SchedulerMetrics) jobAdded()   { m.activeJobs.Inc() }
func (m *SchedulerMetrics) jobRemoved() { m.activeJobs.Dec() }
func (m *SchedulerMetrics) tick()       { m.ticksTotal.Inc() }
func (m *SchedulerMetrics) skipped()    { m.skippedTotal.Inc() }

func (m *SchedulerMetrics) fired(d time.Duration, ok bool) {
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	m.firingsTotal.WithLabelValues(outcome).Inc()
	m.firingDuration.Observe(float64(d.Milliseconds()))
}

func (m *SchedulerMetrics) reset() {
	m.activeJobs.Set(0)
}
