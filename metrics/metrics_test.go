package metrics_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/storeledger/metrics"
)

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *metrics.Metrics

	assert.NotPanics(t, func() {
		m.MovementPosted("SALE")
		m.SaleReplayed()
		m.OversellRejected()
		m.RetryAttempted("sell")
		m.ConflictExhausted("sell")
		m.DocumentTransition("transfer", "APPROVED")
		m.ObserveUnitOfWork("sell", time.Millisecond, nil)
	})
}

func TestMetrics_CountersIncrement(t *testing.T) {
	m := metrics.New(metrics.DefaultConfig())

	m.MovementPosted("SALE")
	m.MovementPosted("SALE")
	m.MovementPosted("RECEIVE")
	m.SaleReplayed()
	m.DocumentTransition("count", "POSTED")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.MovementsPosted.WithLabelValues("SALE")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MovementsPosted.WithLabelValues("RECEIVE")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SalesReplayed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DocumentTransitions.WithLabelValues("count", "POSTED")))
}

func TestMetrics_HandlerExposesRegistry(t *testing.T) {
	m := metrics.New(metrics.DefaultConfig())
	m.OversellRejected()
	m.ObserveUnitOfWork("sell", 2*time.Millisecond, errors.New("boom"))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "storeledger_ledger_oversell_rejections_total 1")
	assert.Contains(t, body, `storeledger_ledger_unit_of_work_duration_seconds_count{operation="sell",outcome="error"} 1`)
}
