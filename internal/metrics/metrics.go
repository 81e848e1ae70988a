// Package metrics registers the Prometheus collectors exported at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Redirect outcomes.
const (
	OutcomeRedirected = "redirected"
	OutcomeNotFound   = "not_found"
	OutcomeError      = "error"
)

// Geo lookup results.
const (
	GeoHit         = "hit"
	GeoMiss        = "miss"
	GeoDisabled    = "disabled"
	GeoError       = "error"
	GeoInvalid     = "invalid"
	GeoLocal       = "local"
	GeoBreakerOpen = "breaker_open"
)

var (
	Redirects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanly_redirects_total",
			Help: "Redirect requests by terminal outcome",
		},
		[]string{"outcome"},
	)

	ScansRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanly_scans_recorded_total",
			Help: "Scans persisted, by source (redirect or manual)",
		},
		[]string{"source"},
	)

	GeoLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanly_geo_lookups_total",
			Help: "Geolocation lookups by result",
		},
		[]string{"result"},
	)

	GeoLookupDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scanly_geo_lookup_duration_seconds",
			Help:    "Latency of upstream geolocation calls",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2, 5},
		},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scanly_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
)
