// internal/metrics/metrics_test.go - Metrics registration tests
package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsolatedRegistries(t *testing.T) {
	a := New()
	b := New()

	a.TilesFetched.Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.TilesFetched))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.TilesFetched))
}

func TestIncFetchFailure(t *testing.T) {
	m := New()
	m.IncFetchFailure("TIMEOUT_ERROR")
	m.IncFetchFailure("TIMEOUT_ERROR")
	m.IncFetchFailure("")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.FetchFailures.WithLabelValues("TIMEOUT_ERROR")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FetchFailures.WithLabelValues("unknown")))
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.BatchesCommitted.Inc()
	m.QueueDepth.Set(3)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "tilecutter_batches_committed_total 1"), body)
	assert.True(t, strings.Contains(body, "tilecutter_queue_depth 3"), body)
}
