// Featurepipe - Online Feature Pipeline for Recommendation Serving
// Copyright 2026 The Featurepipe Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/recsyslab/featurepipe

// Package metrics provides Prometheus instrumentation for Featurepipe.
//
// All collectors are registered with the default registry via promauto and
// exposed on /metrics. Covered surfaces:
//   - event ingestion and aggregation throughput
//   - feature store cache efficiency
//   - circuit breaker state transitions
//   - recommendation serving outcomes
//   - HTTP endpoint latency
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion metrics
	EventsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_ingested_total",
			Help: "Total events accepted by the ingress endpoint",
		},
		[]string{"event_type"},
	)

	// Aggregation metrics
	EventsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_processed_total",
			Help: "Total events processed by the aggregation engine",
		},
		[]string{"event_type", "status"}, // status: success, duplicate, error
	)

	ProcessingLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "event_processing_duration_seconds",
			Help:    "Per-event aggregation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"event_type"},
	)

	FeaturesUpdated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "features_updated_total",
			Help: "Total feature record writes by subject kind",
		},
		[]string{"feature_type"}, // user, item
	)

	// Feature store cache metrics
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feature_cache_hits_total",
			Help: "Total feature store cache tier hits",
		},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feature_cache_misses_total",
			Help: "Total feature store cache tier misses",
		},
	)

	// Resilience metrics
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state per dependency (0=closed, 1=half-open, 2=open)",
		},
		[]string{"dependency"},
	)

	BreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_transitions_total",
			Help: "Total circuit breaker state transitions",
		},
		[]string{"dependency", "from", "to"},
	)

	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total retry attempts against external dependencies",
		},
		[]string{"dependency"},
	)

	// Serving metrics
	RecommendationsServed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recommendations_served_total",
			Help: "Total recommendation responses by user classification",
		},
		[]string{"user_type"}, // existing_user, new_user
	)

	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "endpoint"},
	)
)

// ObserveProcessing records the outcome and latency of one aggregated event.
func ObserveProcessing(eventType, status string, start time.Time) {
	EventsProcessed.WithLabelValues(eventType, status).Inc()
	if status == "success" {
		ProcessingLatency.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	}
}

// SetBreakerState records the current state of a dependency's breaker.
// The numeric mapping follows gobreaker's State ordering.
func SetBreakerState(dependency, state string) {
	var v float64
	switch state {
	case "half-open":
		v = 1
	case "open":
		v = 2
	}
	BreakerState.WithLabelValues(dependency).Set(v)
}
