// Package metrics bundles the Prometheus collectors of the extraction engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	Registry          *prometheus.Registry
	FetchesTotal      *prometheus.CounterVec
	FetchDuration     *prometheus.HistogramVec
	RetriesTotal      prometheus.Counter
	ErrorsTotal       *prometheus.CounterVec
	CacheLookupsTotal *prometheus.CounterVec
	ExtractionsTotal  *prometheus.CounterVec
	BatchEventsTotal  *prometheus.CounterVec
	BatchFailures     prometheus.Counter
	TicksTotal        *prometheus.CounterVec
	LastRunTimestamp  prometheus.Gauge
}

// New constructs and registers all metrics on a dedicated registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	fetches := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adwatch_fetches_total",
			Help: "Document fetch attempts by strategy and outcome.",
		},
		[]string{"strategy", "outcome"},
	)
	fetchDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "adwatch_fetch_duration_seconds",
			Help:    "Document fetch latency by fetch mode.",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 45, 90},
		},
		[]string{"mode"},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "adwatch_retries_total",
			Help: "Total number of fetch retries inside a strategy.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adwatch_errors_total",
			Help: "Fetch errors by type.",
		},
		[]string{"error_type"},
	)
	cacheLookups := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adwatch_cache_lookups_total",
			Help: "Result cache lookups by outcome.",
		},
		[]string{"outcome"},
	)
	extractions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adwatch_extractions_total",
			Help: "Terminal extraction results by strategy source.",
		},
		[]string{"source"},
	)
	batchEvents := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adwatch_batch_events_total",
			Help: "History events produced by batch runs, by target kind.",
		},
		[]string{"kind"},
	)
	batchFailures := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "adwatch_batch_target_failures_total",
			Help: "Targets that failed inside a batch.",
		},
	)
	ticks := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adwatch_scheduler_runs_total",
			Help: "Batch runs started by the scheduler, by trigger and status.",
		},
		[]string{"trigger", "status"},
	)
	lastRun := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "adwatch_scheduler_last_run_timestamp_seconds",
			Help: "Unix time of the last completed batch run.",
		},
	)

	registry.MustRegister(fetches, fetchDuration, retries, errorsTotal, cacheLookups,
		extractions, batchEvents, batchFailures, ticks, lastRun)

	return &Metrics{
		Registry:          registry,
		FetchesTotal:      fetches,
		FetchDuration:     fetchDuration,
		RetriesTotal:      retries,
		ErrorsTotal:       errorsTotal,
		CacheLookupsTotal: cacheLookups,
		ExtractionsTotal:  extractions,
		BatchEventsTotal:  batchEvents,
		BatchFailures:     batchFailures,
		TicksTotal:        ticks,
		LastRunTimestamp:  lastRun,
	}
}

// IncFetch counts one fetch attempt.
func (m *Metrics) IncFetch(strategy, outcome string) {
	if m == nil {
		return
	}
	m.FetchesTotal.WithLabelValues(strategy, outcome).Inc()
}

// ObserveFetch records a fetch duration.
func (m *Metrics) ObserveFetch(mode string, d time.Duration) {
	if m == nil {
		return
	}
	m.FetchDuration.WithLabelValues(mode).Observe(d.Seconds())
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// IncCache counts a cache hit or miss.
func (m *Metrics) IncCache(hit bool) {
	if m == nil {
		return
	}
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.CacheLookupsTotal.WithLabelValues(outcome).Inc()
}

// IncExtraction counts a terminal result.
func (m *Metrics) IncExtraction(source string) {
	if m == nil {
		return
	}
	if source == "" {
		source = "none"
	}
	m.ExtractionsTotal.WithLabelValues(source).Inc()
}

// AddBatchEvents counts events produced for a target kind.
func (m *Metrics) AddBatchEvents(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.BatchEventsTotal.WithLabelValues(kind).Add(float64(n))
}

// IncBatchFailure counts a failed target.
func (m *Metrics) IncBatchFailure() {
	if m == nil {
		return
	}
	m.BatchFailures.Inc()
}

// ObserveRun records a finished scheduler run.
func (m *Metrics) ObserveRun(trigger string, failed bool, at time.Time) {
	if m == nil {
		return
	}
	status := "ok"
	if failed {
		status = "error"
	}
	m.TicksTotal.WithLabelValues(trigger, status).Inc()
	m.LastRunTimestamp.Set(float64(at.Unix()))
}
