package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/restaurant-ops/restops/internal/closure"
)

// Metrics exposes Prometheus collectors for background jobs, closure attempts
// and reminders.
type Metrics struct {
	runs            *prometheus.CounterVec
	failures        *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	closures        *prometheus.CounterVec
	closureDuration *prometheus.HistogramVec
	reminders       *prometheus.CounterVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer. When the
// registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker provides lifecycle instrumentation helpers for a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track spawns a tracker for the given job name.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil {
		return &Tracker{job: job, start: time.Now()}
	}
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End finalises the tracker, recording duration, success/failure counts and
// returning the provided error untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// RecordClosure implements closure.OutcomeRecorder.
func (m *Metrics) RecordClosure(outcome closure.Outcome, kind closure.ErrorKind, elapsed time.Duration) {
	if m == nil {
		return
	}
	label := string(kind)
	if label == "" {
		label = "none"
	}
	m.closures.WithLabelValues(string(outcome), label).Inc()
	m.closureDuration.WithLabelValues(string(outcome)).Observe(elapsed.Seconds())
}

// RecordReminder counts reminder attempts by trigger and result.
func (m *Metrics) RecordReminder(trigger, result string) {
	if m == nil {
		return
	}
	m.reminders.WithLabelValues(trigger, result).Inc()
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "restops_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "restops_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "restops_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	closures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "restops_closure_outcomes_total",
		Help: "Day closure attempts by outcome and error kind.",
	}, []string{"outcome", "kind"})
	closureDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "restops_closure_duration_seconds",
		Help:    "Duration of day closure attempts, lock wait excluded.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"outcome"})
	reminders := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "restops_closure_reminders_total",
		Help: "Closure reminder attempts by trigger and result.",
	}, []string{"trigger", "result"})
	registerer.MustRegister(runs, failures, duration, closures, closureDuration, reminders)
	return &Metrics{
		runs:            runs,
		failures:        failures,
		duration:        duration,
		closures:        closures,
		closureDuration: closureDuration,
		reminders:       reminders,
	}
}
