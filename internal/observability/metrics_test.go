package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)

	m.RecordFetch("pools", "public", StatusSuccess, 20*time.Millisecond)
	m.RecordFetch("pools", "public", StatusSuccess, 10*time.Millisecond)
	m.RecordDroppedTrigger("pools", "public")
	m.RecordValuation("primary", 10, 5, 15, 2, true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.FetchesTotal.WithLabelValues("pools", "public", StatusSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TriggersDropped.WithLabelValues("pools", "public")))
	assert.Equal(t, 15.0, testutil.ToFloat64(m.ValueUSD.WithLabelValues("primary", "total")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StaleTotals.WithLabelValues("primary")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordFetch("pools", "public", StatusError, time.Second)
		m.RecordCommit("pools", "public", 1, time.Now())
		m.RecordSinkError("redis")
	})
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)
	m.RecordCycle("public")

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "test_refresh_cycles_total"))
}
