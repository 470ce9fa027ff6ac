package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	cacheOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "azbuka",
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by outcome (hit, miss, expired).",
		},
		[]string{"outcome"},
	)

	queueEnqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "azbuka",
			Name:      "queue_enqueued_total",
			Help:      "Mutations accepted into the sync queue.",
		},
		[]string{"kind", "priority"},
	)

	queuePending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "azbuka",
			Name:      "queue_pending",
			Help:      "Mutations currently waiting for delivery.",
		},
	)

	queueExhausted = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "azbuka",
			Name:      "queue_exhausted",
			Help:      "Mutations parked in the dead letter list.",
		},
	)

	dispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "azbuka",
			Name:      "dispatches_total",
			Help:      "Item dispatch attempts by outcome (success, retry, permanent).",
		},
		[]string{"outcome"},
	)

	syncPasses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "azbuka",
			Name:      "sync_passes_total",
			Help:      "Completed sync passes by result (clean, dirty, aborted).",
		},
		[]string{"result"},
	)

	syncDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "azbuka",
			Name:      "sync_pass_duration_seconds",
			Help:      "Wall time of a sync pass.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	netTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "azbuka",
			Name:      "network_transitions_total",
			Help:      "Connectivity edge transitions by new state (online, offline).",
		},
		[]string{"state"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "azbuka",
			Name:      "http_requests_total",
			Help:      "Admin HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			cacheOps,
			queueEnqueued,
			queuePending,
			queueExhausted,
			dispatches,
			syncPasses,
			syncDuration,
			netTransitions,
			httpRequests,
		)
	})
}

// IncCache counts one cache lookup outcome.
func IncCache(outcome string) {
	cacheOps.WithLabelValues(outcome).Inc()
}

// IncEnqueued counts one accepted mutation.
func IncEnqueued(kind, priority string) {
	queueEnqueued.WithLabelValues(kind, priority).Inc()
}

// SetQueueDepth publishes current queue gauges.
func SetQueueDepth(pending, exhausted int) {
	queuePending.Set(float64(pending))
	queueExhausted.Set(float64(exhausted))
}

// IncDispatch counts one dispatch attempt outcome.
func IncDispatch(outcome string) {
	dispatches.WithLabelValues(outcome).Inc()
}

// ObserveSyncPass records a finished pass.
func ObserveSyncPass(result string, seconds float64) {
	syncPasses.WithLabelValues(result).Inc()
	syncDuration.Observe(seconds)
}

// IncTransition counts a connectivity edge.
func IncTransition(online bool) {
	state := "offline"
	if online {
		state = "online"
	}
	netTransitions.WithLabelValues(state).Inc()
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}
