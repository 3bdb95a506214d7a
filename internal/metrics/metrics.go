// internal/metrics/metrics.go - Prometheus collectors for the crawl pipeline
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the pipeline
type Metrics struct {
	TilesFetched       prometheus.Counter
	FetchFailures      *prometheus.CounterVec
	FetchDuration      prometheus.Histogram
	BatchesCommitted   prometheus.Counter
	BatchFailures      prometheus.Counter
	TilesStored        prometheus.Counter
	ImagesStored       prometheus.Counter
	ImagesDeduplicated prometheus.Counter
	QueueDepth         prometheus.Gauge

	registry *prometheus.Registry
}

// New registers the pipeline collectors on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		TilesFetched: factory.NewCounter(prometheus.CounterOpts{
			Name: "tilecutter_tiles_fetched_total",
			Help: "The total number of tiles fetched successfully",
		}),
		FetchFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tilecutter_fetch_failures_total",
			Help: "The total number of tile fetches that failed",
		}, []string{"reason"}), // error code, e.g. HTTP_STATUS_ERROR, TIMEOUT_ERROR
		FetchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "tilecutter_fetch_duration_seconds",
			Help:    "Time spent fetching one tile",
			Buckets: prometheus.DefBuckets,
		}),
		BatchesCommitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "tilecutter_batches_committed_total",
			Help: "The total number of batches committed to the store",
		}),
		BatchFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "tilecutter_batch_failures_total",
			Help: "The total number of batches rolled back",
		}),
		TilesStored: factory.NewCounter(prometheus.CounterOpts{
			Name: "tilecutter_tiles_stored_total",
			Help: "The total number of tile addresses written",
		}),
		ImagesStored: factory.NewCounter(prometheus.CounterOpts{
			Name: "tilecutter_images_stored_total",
			Help: "The total number of distinct images inserted",
		}),
		ImagesDeduplicated: factory.NewCounter(prometheus.CounterOpts{
			Name: "tilecutter_images_deduplicated_total",
			Help: "The total number of tiles whose content was already stored",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tilecutter_queue_depth",
			Help: "Fetched tiles waiting to be batched",
		}),
		registry: reg,
	}
}

// Handler serves the collectors in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// IncFetchFailure counts a failed fetch under its error code
func (m *Metrics) IncFetchFailure(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	m.FetchFailures.WithLabelValues(reason).Inc()
}
