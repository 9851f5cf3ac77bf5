package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// observation pipeline.
type Metrics struct {
	FetchRounds  prometheus.Counter
	FetchRetries prometheus.Counter
	Payloads     *prometheus.CounterVec // labels: outcome={ok,missing,empty}

	RowsIngested    prometheus.Counter
	RowsPublished   prometheus.Counter
	StationsGridded prometheus.Gauge
	StationsDropped prometheus.Counter

	RunDuration prometheus.Histogram
	Runs        *prometheus.CounterVec // labels: status={ok,error}

	PublishEnabled prometheus.Gauge
}

// NewMetrics creates and registers all pipeline metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		FetchRounds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "obsgrid",
			Name:      "fetch_rounds_total",
			Help:      "Total concurrent fetch rounds issued, including retries.",
		}),
		FetchRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "obsgrid",
			Name:      "fetch_retries_total",
			Help:      "Total whole-round retries after connection-level failures.",
		}),
		Payloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "obsgrid",
			Name:      "payloads_total",
			Help:      "Fetched per-station-period payloads by outcome.",
		}, []string{"outcome"}),
		RowsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "obsgrid",
			Name:      "rows_ingested_total",
			Help:      "Canonical rows kept after the raw-to-intermediate fold.",
		}),
		RowsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "obsgrid",
			Name:      "rows_published_total",
			Help:      "Canonical rows published to the downstream topic.",
		}),
		StationsGridded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "obsgrid",
			Name:      "stations_gridded",
			Help:      "Stations included in the most recent gridded dataset.",
		}),
		StationsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "obsgrid",
			Name:      "stations_dropped_total",
			Help:      "Stations dropped for missing registry entries.",
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "obsgrid",
			Name:      "run_duration_seconds",
			Help:      "Duration of a complete fetch-translate-grid-encode run.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "obsgrid",
			Name:      "runs_total",
			Help:      "Completed pipeline runs by status.",
		}, []string{"status"}),
		PublishEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "obsgrid",
			Name:      "publish_enabled",
			Help:      "1 when the Kafka publisher is enabled, 0 otherwise.",
		}),
	}

	prometheus.MustRegister(
		m.FetchRounds,
		m.FetchRetries,
		m.Payloads,
		m.RowsIngested,
		m.RowsPublished,
		m.StationsGridded,
		m.StationsDropped,
		m.RunDuration,
		m.Runs,
		m.PublishEnabled,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		FetchRounds:     prometheus.NewCounter(prometheus.CounterOpts{Namespace: "obsgrid", Name: "fetch_rounds_total"}),
		FetchRetries:    prometheus.NewCounter(prometheus.CounterOpts{Namespace: "obsgrid", Name: "fetch_retries_total"}),
		Payloads:        prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "obsgrid", Name: "payloads_total"}, []string{"outcome"}),
		RowsIngested:    prometheus.NewCounter(prometheus.CounterOpts{Namespace: "obsgrid", Name: "rows_ingested_total"}),
		RowsPublished:   prometheus.NewCounter(prometheus.CounterOpts{Namespace: "obsgrid", Name: "rows_published_total"}),
		StationsGridded: prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "obsgrid", Name: "stations_gridded"}),
		StationsDropped: prometheus.NewCounter(prometheus.CounterOpts{Namespace: "obsgrid", Name: "stations_dropped_total"}),
		RunDuration:     prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "obsgrid", Name: "run_duration_seconds"}),
		Runs:            prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "obsgrid", Name: "runs_total"}, []string{"status"}),
		PublishEnabled:  prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "obsgrid", Name: "publish_enabled"}),
	}
}
