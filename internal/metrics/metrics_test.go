package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveParse(t *testing.T) {
	m := New()
	m.ObserveParse("team", 4, 1)
	m.ObserveParse("team", 2, 0)

	assert.Equal(t, 6.0, testutil.ToFloat64(m.FeedEvents.WithLabelValues("team")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FeedDropped.WithLabelValues("team")))
}

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.FeedFetches.WithLabelValues("team", ResultOK).Inc()
	m.LayoutRequest.WithLabelValues("month").Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `calwidget_feed_fetch_total{result="ok",source="team"} 1`)
	assert.Contains(t, string(body), `calwidget_layout_requests_total{view="month"} 1`)
}

func TestNewUsesIsolatedRegistry(t *testing.T) {
	// Two instances must not panic on duplicate registration.
	assert.NotPanics(t, func() {
		New()
		New()
	})
}
