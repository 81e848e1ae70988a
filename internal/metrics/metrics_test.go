package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scanly/internal/metrics"
)

func TestCountersIncrement(t *testing.T) {
	before := testutil.ToFloat64(metrics.Redirects.WithLabelValues(metrics.OutcomeNotFound))
	metrics.Redirects.WithLabelValues(metrics.OutcomeNotFound).Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.Redirects.WithLabelValues(metrics.OutcomeNotFound)))
}

func TestMetricsLint(t *testing.T) {
	metrics.GeoLookups.WithLabelValues(metrics.GeoDisabled).Inc()

	problems, err := testutil.GatherAndLint(prometheus.DefaultGatherer,
		"scanly_redirects_total",
		"scanly_geo_lookups_total",
	)
	require.NoError(t, err)
	assert.Empty(t, problems)
}
