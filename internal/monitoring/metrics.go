// Package monitoring exposes the service's Prometheus metrics.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "choropleth"

// Metrics holds the counters, histograms and gauges for the HTTP API, the
// classification engine and reference data loads.
type Metrics struct {
	HTTPRequests *prometheus.CounterVec   // labels: route, method, status
	HTTPDuration *prometheus.HistogramVec // labels: route, method

	ClassifyDuration prometheus.Histogram
	ClassifyMethod   *prometheus.CounterVec // labels: axis={income,density}, method={quantile,rank,empty}
	ResultCache      *prometheus.CounterVec // labels: result={hit,miss}

	DatasetLoads    *prometheus.CounterVec // labels: outcome={success,error}
	DatasetRecords  *prometheus.GaugeVec   // labels: dataset={regions,counties,income,population}
	DatasetLoadedAt prometheus.Gauge
}

func newMetrics() *Metrics {
	return &Metrics{
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and method.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"route", "method"}),
		ClassifyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "classification_duration_seconds",
			Help:      "Time to join, classify and colour one county.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),
		ClassifyMethod: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classification_method_total",
			Help:      "Edge table construction method per axis.",
		}, []string{"axis", "method"}),
		ResultCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "result_cache_total",
			Help:      "Classification result cache lookups.",
		}, []string{"result"}),
		DatasetLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dataset_loads_total",
			Help:      "Reference data loads by outcome.",
		}, []string{"outcome"}),
		DatasetRecords: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dataset_records",
			Help:      "Records in the active reference data generation.",
		}, []string{"dataset"}),
		DatasetLoadedAt: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dataset_loaded_timestamp_seconds",
			Help:      "Unix time the active generation was loaded.",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.HTTPRequests,
		m.HTTPDuration,
		m.ClassifyDuration,
		m.ClassifyMethod,
		m.ResultCache,
		m.DatasetLoads,
		m.DatasetRecords,
		m.DatasetLoadedAt,
	}
}

// NewMetrics creates the metrics and registers them with reg, or with the
// default registerer when reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := newMetrics()
	reg.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics on a fresh registry to avoid
// "already registered" panics across tests.
func NewMetricsForTesting() (*Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	return NewMetrics(reg), reg
}
