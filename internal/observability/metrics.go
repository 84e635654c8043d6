package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "water_etl"

// Metrics holds the Prometheus counters, histograms, and gauges for the ETL pipeline.
type Metrics struct {
	PipelineRunning prometheus.Gauge
	RunDuration     prometheus.Histogram

	// Hub'Eau fetch metrics.
	PagesFetched      *prometheus.CounterVec   // labels: source, kind
	FetchRetries      *prometheus.CounterVec   // labels: source
	FetchFailures     *prometheus.CounterVec   // labels: source, kind
	RequestDuration   *prometheus.HistogramVec // labels: source
	CacheLookups      *prometheus.CounterVec   // labels: result={hit,miss,corrupt,bypass}
	SourceFailures    *prometheus.CounterVec   // labels: source
	RecordsFiltered   *prometheus.CounterVec   // labels: source
	RecordsNormalized *prometheus.CounterVec   // labels: source
	RecordsExported   *prometheus.CounterVec   // labels: source
	DuplicateRecords  *prometheus.CounterVec   // labels: source
	FeaturesPublished prometheus.Counter
}

func newMetrics() *Metrics {
	return &Metrics{
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 while a run is in progress, 0 otherwise.",
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of a complete fetch-normalize-export run.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}),
		PagesFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_fetched_total",
			Help:      "Hub'Eau pages fetched by source and resource kind.",
		}, []string{"source", "kind"}),
		FetchRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_retries_total",
			Help:      "Hub'Eau request retries by source.",
		}, []string{"source"}),
		FetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_failures_total",
			Help:      "Hub'Eau fetches abandoned after retries, by source and resource kind.",
		}, []string{"source", "kind"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Hub'Eau page request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"source"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by result.",
		}, []string{"result"}),
		SourceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_failures_total",
			Help:      "Sources that produced no data in a run because of an error.",
		}, []string{"source"}),
		RecordsFiltered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_filtered_total",
			Help:      "Raw analyses retained by the parameter and date filter.",
		}, []string{"source"}),
		RecordsNormalized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_normalized_total",
			Help:      "Analyses mapped onto the canonical schema.",
		}, []string{"source"}),
		RecordsExported: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_exported_total",
			Help:      "Features written to the GeoJSON layer.",
		}, []string{"source"}),
		DuplicateRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_records_total",
			Help:      "Features dropped as duplicates at export.",
		}, []string{"source"}),
		FeaturesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "features_published_total",
			Help:      "Features published to the sink topic.",
		}),
	}
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.PipelineRunning,
		m.RunDuration,
		m.PagesFetched,
		m.FetchRetries,
		m.FetchFailures,
		m.RequestDuration,
		m.CacheLookups,
		m.SourceFailures,
		m.RecordsFiltered,
		m.RecordsNormalized,
		m.RecordsExported,
		m.DuplicateRecords,
		m.FeaturesPublished,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}
