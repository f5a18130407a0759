package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	SyncRuns           *prometheus.CounterVec
	MessagesFetched    prometheus.Counter
	MessagesProcessed  prometheus.Counter
	MessagesSkipped    prometheus.Counter
	MessageErrors      prometheus.Counter
	SyncDuration       prometheus.Histogram
	InferenceCalls     *prometheus.CounterVec
	InferenceRetries   prometheus.Counter
	InferenceDuration  prometheus.Histogram
	EnrichmentFallback *prometheus.CounterVec
	DraftsGenerated    prometheus.Counter
	StoredMessages     prometheus.Gauge
}

// NewMetrics creates the metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SyncRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mailagent_sync_runs_total",
			Help: "Total number of sync cycles by mode and outcome",
		}, []string{"mode", "outcome"}),
		MessagesFetched: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailagent_messages_fetched_total",
			Help: "Total number of messages fetched from the mail provider",
		}),
		MessagesProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailagent_messages_processed_total",
			Help: "Total number of new messages stored",
		}),
		MessagesSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailagent_messages_skipped_total",
			Help: "Total number of fetched messages that were already stored",
		}),
		MessageErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailagent_message_errors_total",
			Help: "Total number of per-message sync failures",
		}),
		SyncDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mailagent_sync_duration_seconds",
			Help:    "Time spent in one sync cycle",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		InferenceCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mailagent_inference_calls_total",
			Help: "Total number of inference requests by outcome",
		}, []string{"outcome"}),
		InferenceRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailagent_inference_retries_total",
			Help: "Total number of inference attempts that were retried",
		}),
		InferenceDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mailagent_inference_duration_seconds",
			Help:    "Time spent per inference request including retries",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		EnrichmentFallback: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mailagent_enrichment_fallbacks_total",
			Help: "Number of enrichment facets that fell back to their default",
		}, []string{"facet"}),
		DraftsGenerated: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailagent_drafts_generated_total",
			Help: "Total number of reply drafts generated",
		}),
		StoredMessages: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mailagent_stored_messages",
			Help: "Number of messages in the store at the last stats query",
		}),
	}
}
