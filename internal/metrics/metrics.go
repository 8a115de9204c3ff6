// ABOUTME: Prometheus collectors for the gateway, runner, and replier
// ABOUTME: Registered on the default registry and served at /metrics

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingest metrics
	MessagesIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clawswarm_messages_ingested_total",
			Help: "Messages merged into the unified store",
		},
		[]string{"platform"},
	)

	FetchErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clawswarm_fetch_errors_total",
			Help: "Adapter fetch failures",
		},
		[]string{"platform", "kind"}, // "unavailable" or "error"
	)

	AdapterBackoff = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "clawswarm_adapter_backoff",
			Help: "1 while an adapter waits after a failed fetch",
		},
		[]string{"platform"},
	)

	StoredMessages = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "clawswarm_store_messages",
			Help: "Messages currently held in the unified store",
		},
	)

	MessagesCollected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clawswarm_store_collected_total",
			Help: "Messages removed from the unified store",
		},
		[]string{"reason"}, // "consumed", "retention", or "dropped_unconsumed"
	)

	// Delivery metrics
	Polls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clawswarm_polls_total",
			Help: "PollMessages calls",
		},
		[]string{"transport"}, // "grpc" or "http"
	)

	ActiveStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "clawswarm_active_streams",
			Help: "Open StreamMessages subscribers",
		},
	)

	WebhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clawswarm_webhook_events_total",
			Help: "Webhook requests by outcome",
		},
		[]string{"platform", "outcome"},
	)

	// Agent metrics
	PipelineDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clawswarm_pipeline_duration_seconds",
			Help:    "Time to answer one inbound message",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"outcome"},
	)

	WorkerRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clawswarm_worker_runs_total",
			Help: "Worker invocations by status",
		},
		[]string{"worker", "status"},
	)

	PlanFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "clawswarm_plan_fallbacks_total",
			Help: "Director plans replaced by the Response fallback",
		},
	)

	RepliesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clawswarm_replies_total",
			Help: "Outbound replies by outcome",
		},
		[]string{"platform", "outcome"}, // "sent" or "failed"
	)

	ReplyRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clawswarm_reply_retries_total",
			Help: "Outbound send retries after transient failures",
		},
		[]string{"platform"},
	)
)

// SetBackoff flips the backoff gauge for a platform.
func SetBackoff(platform string, waiting bool) {
	v := 0.0
	if waiting {
		v = 1
	}
	AdapterBackoff.WithLabelValues(platform).Set(v)
}
