// Package observability holds the package-level Prometheus instruments
// shared by the gateway's components.
package observability

import (
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

var scenarioLabel atomic.Value

func init() {
	scenarioLabel.Store("baseline")
}

func SetScenario(s string) {
	if s == "" {
		s = "baseline"
	}
	scenarioLabel.Store(s)
}

func getScenario() string {
	if s, ok := scenarioLabel.Load().(string); ok && s != "" {
		return s
	}
	return "baseline"
}

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status", "scenario"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status", "scenario"},
	)

	upstreamLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of upstream calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"upstream", "scenario"},
	)

	cacheOpTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_op_total",
			Help: "Cache operations by op and result.",
		},
		[]string{"op", "result"},
	)

	cacheOpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Duration of Redis operations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op"},
	)

	cacheResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_results_total",
			Help: "Cache results by outcome.",
		},
		[]string{"outcome", "scenario"},
	)

	adaptiveDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adaptive_decisions_total",
			Help: "Adaptive TTL decisions by type and reason.",
		},
		[]string{"decision", "reason"},
	)

	hotnessScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "query_hotness_score",
			Help:    "Sampled hotness scores of observed query keys.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
	)

	hotKeysTracked = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hot_keys_tracked",
			Help: "Number of query keys currently held by the hotness tracker.",
		},
		[]string{"tier"},
	)

	invalidationLagSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "invalidation_lag_seconds",
			Help: "Age of the most recently consumed invalidation event.",
		},
	)

	kafkaConsumerErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_consumer_errors_total",
			Help: "Kafka consumer errors by kind.",
		},
		[]string{"kind"},
	)

	invalidationEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invalidation_events_total",
			Help: "Processed invalidation events by op and result.",
		},
		[]string{"op", "result"},
	)

	invalidationKeysDeleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "invalidation_keys_deleted_total",
			Help: "Cache keys deleted by invalidation events.",
		},
	)

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)
)

// Init registers the shared instruments with reg. Passing nil leaves
// the instruments unregistered; observing still works, the values are
// just never exposed.
func Init(reg prometheus.Registerer, _ bool) {
	if reg == nil {
		return
	}
	reg.MustRegister(
		httpRequestsTotal,
		httpRequestDurationSeconds,
		upstreamLatencySeconds,
		cacheOpTotal,
		cacheOpDurationSeconds,
		cacheResults,
		adaptiveDecisions,
		hotnessScore,
		hotKeysTracked,
		invalidationLagSeconds,
		kafkaConsumerErrors,
		invalidationEvents,
		invalidationKeysDeleted,
		buildInfo,
	)
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	s := getScenario()
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st, s).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st, s).Observe(durationSeconds)
}

func ObserveUpstreamLatency(upstream string, durationSeconds float64) {
	upstreamLatencySeconds.WithLabelValues(upstream, getScenario()).Observe(durationSeconds)
}

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	cacheOpTotal.WithLabelValues(op, result).Inc()
	cacheOpDurationSeconds.WithLabelValues(op).Observe(durationSeconds)
}

func AddCacheHits(n int) {
	if n > 0 {
		cacheResults.WithLabelValues("hit", getScenario()).Add(float64(n))
	}
}

func AddCacheMisses(n int) {
	if n > 0 {
		cacheResults.WithLabelValues("miss", getScenario()).Add(float64(n))
	}
}

func ObserveAdaptiveDecision(decision, reason string) {
	adaptiveDecisions.WithLabelValues(decision, reason).Inc()
}

func ObserveHotnessScore(score float64) {
	hotnessScore.Observe(score)
}

func SetHotKeysGauge(tier string, n int) {
	hotKeysTracked.WithLabelValues(tier).Set(float64(n))
}

func SetInvalidationLagSeconds(lag float64) {
	invalidationLagSeconds.Set(lag)
}

func IncKafkaConsumerError(kind string) {
	kafkaConsumerErrors.WithLabelValues(kind).Inc()
}

func ObserveInvalidation(op string, keysDeleted int, err error) {
	if op == "" {
		op = "unknown"
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	invalidationEvents.WithLabelValues(op, result).Inc()
	if keysDeleted > 0 {
		invalidationKeysDeleted.Add(float64(keysDeleted))
	}
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}
