package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the offer-sync collectors on a private Prometheus registry.
type Registry struct {
	reg                 *prometheus.Registry
	Fetched             *prometheus.CounterVec
	Upserted            *prometheus.CounterVec
	Failed              *prometheus.CounterVec
	Pruned              *prometheus.CounterVec
	RetailerFailures    *prometheus.CounterVec
	EmbeddingsGenerated prometheus.Counter
	EmbeddingsCached    prometheus.Counter
	RunDurationSec      prometheus.Gauge
	LastSuccess         prometheus.Gauge
	SearchLatencySec    *prometheus.HistogramVec
}

// NewRegistry creates and registers every collector.
func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	byRetailer := []string{"retailer"}
	fetched := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "offersync_offers_fetched_total"}, byRetailer)
	upserted := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "offersync_offers_upserted_total"}, byRetailer)
	failed := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "offersync_offers_failed_total"}, byRetailer)
	pruned := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "offersync_offers_pruned_total"}, byRetailer)
	retailerFailures := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "offersync_retailer_failures_total"}, []string{"retailer", "phase"})
	generated := prometheus.NewCounter(prometheus.CounterOpts{Name: "offersync_embeddings_generated_total"})
	cached := prometheus.NewCounter(prometheus.CounterOpts{Name: "offersync_embeddings_cached_total"})
	duration := prometheus.NewGauge(prometheus.GaugeOpts{Name: "offersync_run_duration_seconds"})
	lastSuccess := prometheus.NewGauge(prometheus.GaugeOpts{Name: "offersync_last_success_timestamp_seconds"})
	searchLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "offersync_search_latency_seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"mode"})

	r.MustRegister(fetched, upserted, failed, pruned, retailerFailures, generated, cached, duration, lastSuccess, searchLatency)
	return &Registry{
		reg:                 r,
		Fetched:             fetched,
		Upserted:            upserted,
		Failed:              failed,
		Pruned:              pruned,
		RetailerFailures:    retailerFailures,
		EmbeddingsGenerated: generated,
		EmbeddingsCached:    cached,
		RunDurationSec:      duration,
		LastSuccess:         lastSuccess,
		SearchLatencySec:    searchLatency,
	}
}

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }

// Gatherer exposes the underlying registry, mostly for tests.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// MarkSuccess records the end of a healthy run.
func (r *Registry) MarkSuccess(at time.Time) {
	r.LastSuccess.Set(float64(at.Unix()))
}

// WriteTextfile writes the registry in the node_exporter textfile format.
func (r *Registry) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.reg)
}
