package cache

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_LabelledByCache(t *testing.T) {
	CacheHitsTotal.WithLabelValues("metrics-test").Inc()
	CacheHitsTotal.WithLabelValues("metrics-test").Inc()
	CacheMissesTotal.WithLabelValues("metrics-test").Inc()

	assert.InDelta(t, 2.0, testutil.ToFloat64(CacheHitsTotal.WithLabelValues("metrics-test")), 0.001)
	assert.InDelta(t, 1.0, testutil.ToFloat64(CacheMissesTotal.WithLabelValues("metrics-test")), 0.001)
}
