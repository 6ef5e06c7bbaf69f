package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TasksSubmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offloadmq_tasks_submitted_total",
			Help: "Total number of tasks submitted by mode and capability",
		},
		[]string{"mode", "capability"},
	)

	TasksAssignedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offloadmq_tasks_assigned_total",
			Help: "Total number of tasks assigned by mode",
		},
		[]string{"mode"},
	)

	TasksCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offloadmq_tasks_completed_total",
			Help: "Total number of tasks completed by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)

	AgentsOnline = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "offloadmq_agents_online",
			Help: "Current number of agents considered online",
		},
	)

	UrgentQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "offloadmq_urgent_queue_depth",
			Help: "Current number of entries held in the urgent in-memory store",
		},
	)

	SchedulingLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "offloadmq_scheduling_latency_seconds",
			Help:    "Time spent picking up a task on take, by mode",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	ArchivalCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "offloadmq_archival_cycles_total",
			Help: "Total number of durable-task archival sweeps completed",
		},
	)

	ArchivedTasksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "offloadmq_archived_tasks_total",
			Help: "Total number of durable tasks moved to the archive bucket",
		},
	)

	UrgentExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "offloadmq_urgent_expired_total",
			Help: "Total number of urgent tasks that timed out before completion",
		},
	)

	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offloadmq_api_requests_total",
			Help: "Total number of HTTP API requests by route and status",
		},
		[]string{"route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "offloadmq_api_request_duration_seconds",
			Help:    "HTTP API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	prometheus.MustRegister(TasksSubmittedTotal)
	prometheus.MustRegister(TasksAssignedTotal)
	prometheus.MustRegister(TasksCompletedTotal)
	prometheus.MustRegister(AgentsOnline)
	prometheus.MustRegister(UrgentQueueDepth)
	prometheus.MustRegister(SchedulingLatency)
	prometheus.MustRegister(ArchivalCyclesTotal)
	prometheus.MustRegister(ArchivedTasksTotal)
	prometheus.MustRegister(UrgentExpiredTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus scrape handler, mounted at /management/metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations against a histogram.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed duration to a plain histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
