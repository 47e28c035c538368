// Package metrics exposes Prometheus metrics for airsync workers.
//
// All collectors are registered on the default registry at package init and
// are safe for concurrent use.
//
// # Basic Usage
//
//	metrics.EventsEmitted.WithLabelValues(string(eventType), metrics.OriginWorker).Inc()
//
//	timer := metrics.NewTimer()
//	runInvocation()
//	metrics.InvocationDuration.WithLabelValues(string(eventType), phase).Observe(timer.Stop().Seconds())
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Emission origins.
const (
	OriginWorker    = "worker"
	OriginSynthetic = "synthetic"
)

var (
	// HTTPRequests counts outbound platform calls by method and status class
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airsync_http_requests_total",
			Help: "Total number of outbound HTTP requests",
		},
		[]string{"method", "status"},
	)

	// HTTPRetries counts retried requests by reason
	HTTPRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airsync_http_retries_total",
			Help: "Total number of retried HTTP requests",
		},
		[]string{"reason"},
	)

	// HTTPLatency observes the latency of a single attempt
	HTTPLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "airsync_http_request_duration_seconds",
			Help:    "Latency of a single outbound HTTP attempt",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// EventsEmitted counts terminal events sent to the platform
	EventsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airsync_events_emitted_total",
			Help: "Total number of terminal events sent to the platform",
		},
		[]string{"event_type", "origin"},
	)

	// EmitFailures counts emission paths aborted before or while sending
	EmitFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airsync_emit_failures_total",
			Help: "Total number of aborted emissions",
		},
		[]string{"stage"},
	)

	// StateOperations counts remote state fetches and persists
	StateOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airsync_state_operations_total",
			Help: "Total number of remote state operations",
		},
		[]string{"operation", "result"},
	)

	// RecordsPushed counts records buffered into repos
	RecordsPushed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airsync_records_pushed_total",
			Help: "Total number of records pushed into repos",
		},
		[]string{"item_type"},
	)

	// ArtifactsUploaded counts artifacts produced by repo flushes
	ArtifactsUploaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airsync_artifacts_uploaded_total",
			Help: "Total number of uploaded artifacts",
		},
		[]string{"item_type"},
	)

	// AttachmentsProcessed counts streamed attachments by outcome
	AttachmentsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airsync_attachments_processed_total",
			Help: "Total number of attachments handled by the streaming pool",
		},
		[]string{"outcome"},
	)

	// ItemsLoaded counts loaded items by item type and action
	ItemsLoaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airsync_items_loaded_total",
			Help: "Total number of items loaded into the external system",
		},
		[]string{"item_type", "action"},
	)

	// InvocationDuration observes invocations by event type and final phase
	InvocationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "airsync_invocation_duration_seconds",
			Help:    "Duration of one worker invocation",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 900},
		},
		[]string{"event_type", "phase"},
	)

	// ActiveWorkers is the number of running worker units
	ActiveWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "airsync_active_workers",
			Help: "Number of running worker units",
		},
	)
)

// StatusClass buckets an HTTP status code into 2xx, 4xx, 5xx or "error" when no response arrived.
func StatusClass(code int) string {
	if code <= 0 {
		return "error"
	}
	return strconv.Itoa(code/100) + "xx"
}

// Timer measures elapsed time
type Timer struct {
	start time.Time
}

// NewTimer starts a timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Stop returns the elapsed time
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}
