package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordBridgeRequest(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordBridgeRequest("AVAX", "completed", 1.5)
	m.RecordBridgeRequest("AVAX", "completed", 2.5)
	m.RecordBridgeRequest("ETH", "duplicate", 0.01)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.bridgeRequestsTotal.WithLabelValues("AVAX", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.bridgeRequestsTotal.WithLabelValues("ETH", "duplicate")))
}

func TestRecordEVMRPCCall(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordEVMRPCCall("ETH", "EstimateGas", nil, 0.2)
	m.RecordEVMRPCCall("ETH", "EstimateGas", errors.New("boom"), 0.2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.evmRPCCallsTotal.WithLabelValues("ETH", "EstimateGas", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.evmRPCCallsTotal.WithLabelValues("ETH", "EstimateGas", "error")))
}

func TestRecordHotWalletBalance(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordHotWalletBalance("AVAX", 125.5)
	assert.Equal(t, 125.5, testutil.ToFloat64(m.hotWalletBalance.WithLabelValues("AVAX")))
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	handler := HTTPMetricsMiddleware(m, "/api/v1/bridge")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/bridge", nil))

	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("/api/v1/bridge", "POST", "4xx")))
}

func TestHTTPMetricsMiddleware_NilMetrics(t *testing.T) {
	handler := HTTPMetricsMiddleware(nil, "/health")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatusCodeToString(t *testing.T) {
	assert.Equal(t, "2xx", statusCodeToString(200))
	assert.Equal(t, "4xx", statusCodeToString(422))
	assert.Equal(t, "5xx", statusCodeToString(502))
	assert.Equal(t, "unknown", statusCodeToString(99))
}
