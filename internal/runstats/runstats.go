// Package runstats counts API requests, retries and collected records for a
// single run and exports them as a prometheus textfile.
package runstats

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "velocity"

// Request outcomes.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Recorder holds the counters for one run. All methods are safe to call on
// a nil receiver (no-op).
type Recorder struct {
	registry        *prometheus.Registry
	requests        *prometheus.CounterVec
	retries         *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	records         *prometheus.CounterVec
	stageDuration   *prometheus.GaugeVec
}

// New creates a Recorder backed by its own registry.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "API request attempts by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_retries_total",
			Help:      "Transient failures that were retried, by endpoint.",
		}, []string{"endpoint"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_request_duration_seconds",
			Help:      "API request latency by endpoint.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"endpoint"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_collected_total",
			Help:      "Records collected by repository and kind.",
		}, []string{"repo", "kind"}),
		stageDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time of each pipeline stage.",
		}, []string{"stage"}),
	}

	r.registry.MustRegister(r.requests, r.retries, r.requestDuration, r.records, r.stageDuration)

	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Request records one request attempt.
func (r *Recorder) Request(endpoint string, elapsed time.Duration, err error) {
	if r == nil {
		return
	}

	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}

	r.requests.WithLabelValues(endpoint, outcome).Inc()
	r.requestDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

// Retry records a retried transient failure.
func (r *Recorder) Retry(endpoint string) {
	if r == nil {
		return
	}
	r.retries.WithLabelValues(endpoint).Inc()
}

// Records adds n collected records of a kind for a repository.
func (r *Recorder) Records(repo, kind string, n int) {
	if r == nil {
		return
	}
	r.records.WithLabelValues(repo, kind).Add(float64(n))
}

// Stage records how long a pipeline stage took.
func (r *Recorder) Stage(stage string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.stageDuration.WithLabelValues(stage).Set(elapsed.Seconds())
}

// WriteTextfile writes every metric to path in the text exposition format.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
