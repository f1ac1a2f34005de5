// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

// Package metrics exposes Prometheus instrumentation for caches, upstream
// calls, circuit breakers and aggregation latency. A nil *Metrics is valid
// and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vulnrisk"

// Metrics holds the registered collectors.
type Metrics struct {
	registry     *prometheus.Registry
	cacheLookups *prometheus.CounterVec
	upstream     *prometheus.CounterVec
	breakerTrips *prometheus.CounterVec
	aggregation  prometheus.Histogram
}

// New registers all collectors on a fresh registry, including the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: reg,
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by cache layer and result (hit, miss, error).",
		}, []string{"layer", "result"}),
		upstream: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Upstream requests by source and outcome.",
		}, []string{"source", "outcome"}),
		breakerTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_trips_total",
			Help:      "Number of times a circuit breaker opened.",
		}, []string{"name"}),
		aggregation: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "aggregation_duration_seconds",
			Help:      "Duration of vulnerability aggregation calls.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.cacheLookups, m.upstream, m.breakerTrips, m.aggregation)
	return m
}

// Cache lookup results.
const (
	ResultHit   = "hit"
	ResultMiss  = "miss"
	ResultError = "error"
)

// CacheLookup counts a lookup in the named cache layer.
func (m *Metrics) CacheLookup(layer, result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(layer, result).Inc()
}

// Upstream counts a request to an upstream source, e.g. ("epss", "ok").
func (m *Metrics) Upstream(source, outcome string) {
	if m == nil {
		return
	}
	m.upstream.WithLabelValues(source, outcome).Inc()
}

// BreakerTrip counts a circuit breaker opening.
func (m *Metrics) BreakerTrip(name string) {
	if m == nil {
		return
	}
	m.breakerTrips.WithLabelValues(name).Inc()
}

// ObserveAggregation records how long an aggregation took.
func (m *Metrics) ObserveAggregation(d time.Duration) {
	if m == nil {
		return
	}
	m.aggregation.Observe(d.Seconds())
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
