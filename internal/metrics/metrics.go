// Package metrics records run counters for the remediation pipeline. There
// is no server to scrape, so the registry is written once as a node
// exporter textfile at exit.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder holds one run's metrics on a private registry. A nil Recorder
// is valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	RangesTotal     *prometheus.CounterVec
	EventsFound     prometheus.Counter
	EventsClosed    *prometheus.CounterVec
	PagesFetched    prometheus.Counter
	NotReadyRetries prometheus.Counter
	RetryPasses     prometheus.Counter
	SearchDuration  prometheus.Histogram
	CloseDuration   prometheus.Histogram
	LastRunSuccess  prometheus.Gauge
}

// New registers every collector on a fresh registry.
func New(mode string) *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(prometheus.WrapRegistererWith(prometheus.Labels{"mode": mode}, reg))

	return &Recorder{
		registry: reg,

		RangesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sekripgabut_ranges_total",
				Help: "Time ranges processed, by final state",
			},
			[]string{"state"},
		),
		EventsFound: f.NewCounter(
			prometheus.CounterOpts{
				Name: "sekripgabut_events_found_total",
				Help: "Unclosed notable events reported by search jobs",
			},
		),
		EventsClosed: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sekripgabut_events_closed_total",
				Help: "Notable events submitted for closure, by outcome",
			},
			[]string{"outcome"},
		),
		PagesFetched: f.NewCounter(
			prometheus.CounterOpts{
				Name: "sekripgabut_result_pages_total",
				Help: "Result pages fetched",
			},
		),
		NotReadyRetries: f.NewCounter(
			prometheus.CounterOpts{
				Name: "sekripgabut_results_not_ready_total",
				Help: "Result fetches answered with 204 and retried",
			},
		),
		RetryPasses: f.NewCounter(
			prometheus.CounterOpts{
				Name: "sekripgabut_retry_passes_total",
				Help: "Ranges re-searched after a short page",
			},
		),
		SearchDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sekripgabut_search_duration_seconds",
				Help:    "Time from job submission to completion",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
		),
		CloseDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sekripgabut_close_duration_seconds",
				Help:    "Duration of notable_update calls",
				Buckets: prometheus.DefBuckets,
			},
		),
		LastRunSuccess: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "sekripgabut_last_run_success",
				Help: "1 if the last run finished without errors",
			},
		),
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

func (r *Recorder) RangeFinished(state string) {
	if r == nil {
		return
	}
	r.RangesTotal.WithLabelValues(state).Inc()
}

func (r *Recorder) Found(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.EventsFound.Add(float64(n))
}

// Closed records one notable_update outcome.
func (r *Recorder) Closed(success, failure int, took time.Duration) {
	if r == nil {
		return
	}
	if success > 0 {
		r.EventsClosed.WithLabelValues("success").Add(float64(success))
	}
	if failure > 0 {
		r.EventsClosed.WithLabelValues("failure").Add(float64(failure))
	}
	r.CloseDuration.Observe(took.Seconds())
}

func (r *Recorder) PageFetched() {
	if r == nil {
		return
	}
	r.PagesFetched.Inc()
}

func (r *Recorder) NotReady() {
	if r == nil {
		return
	}
	r.NotReadyRetries.Inc()
}

func (r *Recorder) RetryPass() {
	if r == nil {
		return
	}
	r.RetryPasses.Inc()
}

func (r *Recorder) SearchFinished(took time.Duration) {
	if r == nil {
		return
	}
	r.SearchDuration.Observe(took.Seconds())
}

func (r *Recorder) RunFinished(ok bool) {
	if r == nil {
		return
	}
	if ok {
		r.LastRunSuccess.Set(1)
	} else {
		r.LastRunSuccess.Set(0)
	}
}

// WriteTextfile writes every metric in the text exposition format. An empty
// path is a no-op.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.registry)
}
