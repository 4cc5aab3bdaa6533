// Package jobmetrics instruments the asynq handlers that drain the integration outbox.
package jobmetrics

import (
	"errors"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
)

// Job run statuses reported on procurement_jobs_total.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusSkipped = "skipped"
)

// Metrics holds the worker collectors.
type Metrics struct {
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	backlog  prometheus.Gauge
	swept    prometheus.Counter
}

var defaultMetrics = sync.OnceValue(func() *Metrics {
	return buildMetrics(prometheus.DefaultRegisterer)
})

// NewMetrics registers the worker collectors on registerer. A nil registerer returns the
// process-wide instance registered on the default Prometheus registry.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		return defaultMetrics()
	}
	return buildMetrics(registerer)
}

// Run times a single handler invocation.
type Run struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track starts timing job.
func (m *Metrics) Track(job string) *Run {
	return &Run{metrics: m, job: job, start: time.Now()}
}

// End records the run and returns err unchanged. asynq.SkipRetry counts as skipped.
func (r *Run) End(err error) error {
	if r == nil || r.metrics == nil || r.job == "" {
		return err
	}
	r.metrics.runs.WithLabelValues(r.job, statusOf(err)).Inc()
	r.metrics.duration.WithLabelValues(r.job).Observe(time.Since(r.start).Seconds())
	return err
}

func statusOf(err error) string {
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, asynq.SkipRetry):
		return StatusSkipped
	default:
		return StatusFailure
	}
}

// SetBacklog records how many stale intents the last sweep found.
func (m *Metrics) SetBacklog(n int) {
	if m == nil {
		return
	}
	m.backlog.Set(float64(n))
}

// AddSwept counts intents re-enqueued by the outbox sweep.
func (m *Metrics) AddSwept(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.swept.Add(float64(count))
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "procurement_jobs_total",
			Help: "Worker handler runs by task type and status.",
		}, []string{"job", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "procurement_job_duration_seconds",
			Help:    "Worker handler duration in seconds.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"job"}),
		backlog: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "procurement_outbox_backlog",
			Help: "Stale integration intents found by the most recent sweep.",
		}),
		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "procurement_outbox_swept_total",
			Help: "Integration intents re-enqueued by the outbox sweep.",
		}),
	}
	registerer.MustRegister(m.runs, m.duration, m.backlog, m.swept)
	return m
}
