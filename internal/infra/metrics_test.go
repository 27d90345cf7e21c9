package infra

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eliteGoblin/dupguard/internal/domain"
)

func TestMetrics_ObservePrecheck(t *testing.T) {
	m := NewMetrics("test")

	m.ObservePrecheck(domain.PrecheckResult{Checks: []domain.PrecheckCheck{
		{Key: "permission", Status: domain.StatusPass},
		{Key: "deduplication", Status: domain.StatusBlocked},
	}}, 5*time.Millisecond)
	m.ObserveCheck(domain.ResultBlocked)
	m.ObserveReservation(false)
	m.SetBreakerOpen("rate_limit", true)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.guardVerdicts.WithLabelValues("deduplication", "blocked")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.checkResults.WithLabelValues("blocked")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reservations.WithLabelValues("lost")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.breakerState.WithLabelValues("rate_limit")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObservePrecheck(domain.PrecheckResult{}, time.Second)
		m.ObserveCheck(domain.ResultPass)
		m.ObserveReservation(true)
		m.SetBreakerOpen("x", false)
		m.ObserveHTTP("GET", "/healthz", 200, time.Millisecond)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics("1.2.3")
	m.ObserveHTTP("GET", "/healthz", 200, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `dupguard_service_info{version="1.2.3"} 1`)
	assert.Contains(t, string(body), `dupguard_http_requests_total{endpoint="/healthz",method="GET",status="200"} 1`)
}
