package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// ingestion pipelines.
type Metrics struct {
	RowsFetched      *prometheus.CounterVec // labels: source
	RowsWritten      *prometheus.CounterVec // labels: source
	RowsDuplicate    *prometheus.CounterVec // labels: source
	MalformedEntries *prometheus.CounterVec // labels: source
	UpstreamErrors   *prometheus.CounterVec // labels: source
	FetchRetries     prometheus.Counter

	RunsTotal   *prometheus.CounterVec   // labels: source, outcome={success,error}
	RunDuration *prometheus.HistogramVec // labels: source

	// CheckpointTimestamp exports the last confirmed ingestion point as unix
	// seconds per checkpoint key. Entity cardinality is bounded by the
	// configured entity lists (tens, not thousands).
	CheckpointTimestamp *prometheus.GaugeVec // labels: source, entity

	PublishedRows *prometheus.CounterVec // labels: source
	PublishErrors prometheus.Counter

	IngestRunning prometheus.Gauge
}

// NewMetrics creates and registers all ingestion metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		RowsFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "airdata",
			Name:      "rows_fetched_total",
			Help:      "Normalized rows produced from vendor responses.",
		}, []string{"source"}),
		RowsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "airdata",
			Name:      "rows_written_total",
			Help:      "Rows newly inserted into the measurement tables.",
		}, []string{"source"}),
		RowsDuplicate: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "airdata",
			Name:      "rows_duplicate_total",
			Help:      "Rows skipped because their dedup key already existed.",
		}, []string{"source"}),
		MalformedEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "airdata",
			Name:      "malformed_entries_total",
			Help:      "Vendor entries skipped because they failed to parse.",
		}, []string{"source"}),
		UpstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "airdata",
			Name:      "upstream_errors_total",
			Help:      "Fetch failures isolated to one entity and window.",
		}, []string{"source"}),
		FetchRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "airdata",
			Name:      "fetch_retries_total",
			Help:      "Backoff retries taken after rate-limited responses.",
		}),
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "airdata",
			Name:      "runs_total",
			Help:      "Completed source runs by outcome.",
		}, []string{"source", "outcome"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "airdata",
			Name:      "run_duration_seconds",
			Help:      "Duration of one complete source run.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
		}, []string{"source"}),
		CheckpointTimestamp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "airdata",
			Name:      "checkpoint_timestamp_seconds",
			Help:      "Last confirmed ingestion point as unix seconds.",
		}, []string{"source", "entity"}),
		PublishedRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "airdata",
			Name:      "published_rows_total",
			Help:      "Rows published to the downstream topic.",
		}, []string{"source"}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "airdata",
			Name:      "publish_errors_total",
			Help:      "Failed publish batches. Publishing is best-effort.",
		}),
		IngestRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "airdata",
			Name:      "ingest_running",
			Help:      "1 while an ingestion cycle is active, 0 otherwise.",
		}),
	}

	prometheus.MustRegister(
		m.RowsFetched,
		m.RowsWritten,
		m.RowsDuplicate,
		m.MalformedEntries,
		m.UpstreamErrors,
		m.FetchRetries,
		m.RunsTotal,
		m.RunDuration,
		m.CheckpointTimestamp,
		m.PublishedRows,
		m.PublishErrors,
		m.IngestRunning,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		RowsFetched:         prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "airdata", Name: "rows_fetched_total"}, []string{"source"}),
		RowsWritten:         prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "airdata", Name: "rows_written_total"}, []string{"source"}),
		RowsDuplicate:       prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "airdata", Name: "rows_duplicate_total"}, []string{"source"}),
		MalformedEntries:    prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "airdata", Name: "malformed_entries_total"}, []string{"source"}),
		UpstreamErrors:      prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "airdata", Name: "upstream_errors_total"}, []string{"source"}),
		FetchRetries:        prometheus.NewCounter(prometheus.CounterOpts{Namespace: "airdata", Name: "fetch_retries_total"}),
		RunsTotal:           prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "airdata", Name: "runs_total"}, []string{"source", "outcome"}),
		RunDuration:         prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: "airdata", Name: "run_duration_seconds"}, []string{"source"}),
		CheckpointTimestamp: prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: "airdata", Name: "checkpoint_timestamp_seconds"}, []string{"source", "entity"}),
		PublishedRows:       prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "airdata", Name: "published_rows_total"}, []string{"source"}),
		PublishErrors:       prometheus.NewCounter(prometheus.CounterOpts{Namespace: "airdata", Name: "publish_errors_total"}),
		IngestRunning:       prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "airdata", Name: "ingest_running"}),
	}
}
