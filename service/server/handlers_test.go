package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/brojonat/solbridge/service/bridge"
	"github.com/brojonat/solbridge/service/evm"
	"github.com/brojonat/solbridge/service/metrics"
	"github.com/brojonat/solbridge/service/tracker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSignature = "5VERv8NMvzbJMEkV8xnrLkEaWRtSz9CosKDYjCJjBRnbJLgp8uirBgmQpjKhoR4tjF3ZpRzrFmBV6UjKdiSZkQUW"
	testTarget    = "0x52908400098527886E0F7030069857D2E4169EE7"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

type fakeBridge struct {
	mu       sync.Mutex
	result   bridge.Result
	requests []bridge.Request
	claims   []tracker.Claim
	claimErr error
	limit    int
	balances bridge.HotWalletBalances
	stats    bridge.Stats
}

func (f *fakeBridge) ProcessBridgeRequest(ctx context.Context, req bridge.Request) bridge.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	r := f.result
	r.SourceTxID = req.SourceTxID
	return r
}

func (f *fakeBridge) Stats(ctx context.Context) bridge.Stats { return f.stats }

func (f *fakeBridge) Claims(ctx context.Context, limit int) ([]tracker.Claim, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limit = limit
	return f.claims, f.claimErr
}

func (f *fakeBridge) CheckHotWalletBalances(ctx context.Context) bridge.HotWalletBalances {
	return f.balances
}

type fakeRunner struct {
	result bridge.Result
	err    error
	calls  int
}

func (f *fakeRunner) ExecuteBridge(ctx context.Context, req bridge.Request) (bridge.Result, error) {
	f.calls++
	return f.result, f.err
}

func bridgeBody(sig string) string {
	return `{"solana_wallet":"9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM","target_wallet":"` + testTarget +
		`","network_target":"AVAX","amount_usdc":"50.00","source_tx_id":"` + sig + `"}`
}

func postBridge(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/bridge", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSubmitBridge_StatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		result bridge.Result
		status int
	}{
		{
			name:   "success",
			result: bridge.Result{Success: true, Network: evm.NetworkAVAX, EVMTransfer: &evm.TransferResult{Success: true, TxHash: "0xfeed"}},
			status: http.StatusOK,
		},
		{"duplicate", bridge.Result{ErrorCode: bridge.ErrDuplicateTransaction}, http.StatusConflict},
		{"invalid request", bridge.Result{ErrorCode: bridge.ErrInvalidRequest}, http.StatusBadRequest},
		{"verification failed", bridge.Result{ErrorCode: bridge.ErrVerificationFailed}, http.StatusUnprocessableEntity},
		{"amount mismatch", bridge.Result{ErrorCode: bridge.ErrAmountMismatch}, http.StatusUnprocessableEntity},
		{"out of range", bridge.Result{ErrorCode: bridge.ErrAmountOutOfRange}, http.StatusUnprocessableEntity},
		{"payout failed", bridge.Result{ErrorCode: bridge.ErrPayoutFailed, RequiresManualAction: true}, http.StatusBadGateway},
		{"claim ledger unavailable", bridge.Result{ErrorCode: bridge.ErrClaimUnavailable}, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeBridge{result: tt.result}
			rec := postBridge(t, handleSubmitBridge(svc, nil, testLogger()), bridgeBody(testSignature))

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var got bridge.Result
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
			assert.Equal(t, tt.result.Success, got.Success)
			assert.Equal(t, tt.result.ErrorCode, got.ErrorCode)
			assert.Equal(t, testSignature, got.SourceTxID)
		})
	}
}

func TestSubmitBridge_PassesRequestThrough(t *testing.T) {
	svc := &fakeBridge{result: bridge.Result{Success: true}}
	body := `{"target_wallet":"  ` + testTarget + `  ","network_target":"eth","amount_usdc":"12.5","source_tx_id":"` + testSignature + `"}`
	rec := postBridge(t, handleSubmitBridge(svc, nil, testLogger()), body)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, svc.requests, 1)
	req := svc.requests[0]
	assert.Equal(t, testTarget, req.TargetWallet)
	assert.Equal(t, "eth", req.NetworkTarget)
	assert.Equal(t, "12.5", req.AmountUSDC.String())
	assert.Equal(t, testSignature, req.SourceTxID)
	assert.WithinDuration(t, time.Now(), req.Timestamp, 5*time.Second)
}

func TestSubmitBridge_KeepsClientTimestamp(t *testing.T) {
	svc := &fakeBridge{result: bridge.Result{Success: true}}
	body := `{"target_wallet":"` + testTarget + `","network_target":"ETH","amount_usdc":"5","source_tx_id":"` +
		testSignature + `","timestamp":"2025-03-01T12:30:00+02:00"}`
	rec := postBridge(t, handleSubmitBridge(svc, nil, testLogger()), body)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, svc.requests, 1)
	want := time.Date(2025, 3, 1, 10, 30, 0, 0, time.UTC)
	assert.True(t, want.Equal(svc.requests[0].Timestamp), "got %s", svc.requests[0].Timestamp)
	assert.Equal(t, time.UTC, svc.requests[0].Timestamp.Location())
}

func TestSubmitBridge_PathologicalInput(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantError string
	}{
		{"invalid JSON", `{not json`, "invalid request body"},
		{"empty body", ``, "invalid request body"},
		{"amount not a number", `{"source_tx_id":"abc","amount_usdc":"fifty"}`, "invalid request body"},
		{"missing signature", bridgeBody(""), "source_tx_id is required"},
		{"signature too long", bridgeBody(strings.Repeat("a", 101)), "too long"},
		{"signature not base58", bridgeBody("0OIl"), "base58"},
		{"signature with control characters", bridgeBody(`abc\u0000def`), "control characters"},
		{"sql injection", bridgeBody("abc'; DROP TABLE claims; --"), "base58"},
		{
			"bad solana wallet",
			`{"solana_wallet":"not/base58","target_wallet":"` + testTarget + `","network_target":"ETH","amount_usdc":"1","source_tx_id":"abc"}`,
			"solana_wallet",
		},
		{"body too large", `{"source_tx_id":"` + strings.Repeat("a", maxRequestBodySize) + `"}`, "too large"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeBridge{}
			rec := postBridge(t, handleSubmitBridge(svc, nil, testLogger()), tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			var resp map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Contains(t, resp["error"], tt.wantError)
			assert.Empty(t, svc.requests, "invalid input must not reach the orchestrator")
		})
	}
}

func TestSubmitBridge_UsesRunner(t *testing.T) {
	svc := &fakeBridge{}
	runner := &fakeRunner{result: bridge.Result{Success: false, ErrorCode: bridge.ErrDuplicateTransaction}}

	rec := postBridge(t, handleSubmitBridge(svc, runner, testLogger()), bridgeBody(testSignature))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, 1, runner.calls)
	assert.Empty(t, svc.requests)
}

func TestSubmitBridge_RunnerError(t *testing.T) {
	runner := &fakeRunner{err: errors.New("temporal unavailable")}
	rec := postBridge(t, handleSubmitBridge(&fakeBridge{}, runner, testLogger()), bridgeBody(testSignature))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "temporal unavailable")
}

func TestGetStats(t *testing.T) {
	svc := &fakeBridge{stats: bridge.Stats{ProcessedCount: 3}}
	rec := httptest.NewRecorder()
	handleGetStats(svc, testLogger()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"processed_count":3}`, rec.Body.String())
}

func TestGetBalances(t *testing.T) {
	svc := &fakeBridge{balances: bridge.HotWalletBalances{"eth": "1000.000000", "avax": bridge.BalanceError}}
	rec := httptest.NewRecorder()
	handleGetBalances(svc, testLogger()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/balances", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"eth":"1000.000000","avax":"error"}`, rec.Body.String())
}

func TestListClaims(t *testing.T) {
	claimedAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	svc := &fakeBridge{claims: []tracker.Claim{{SourceTxID: "abc", ClaimedAt: claimedAt}}}

	tests := []struct {
		name      string
		query     string
		status    int
		wantLimit int
	}{
		{"default limit", "", http.StatusOK, defaultClaimsLimit},
		{"explicit limit", "?limit=5", http.StatusOK, 5},
		{"limit capped", "?limit=100000", http.StatusOK, maxClaimsLimit},
		{"zero limit", "?limit=0", http.StatusBadRequest, 0},
		{"negative limit", "?limit=-1", http.StatusBadRequest, 0},
		{"non-numeric limit", "?limit=ten", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc.limit = 0
			rec := httptest.NewRecorder()
			handleListClaims(svc, testLogger()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/claims"+tt.query, nil))

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.wantLimit, svc.limit)
			if tt.status != http.StatusOK {
				return
			}

			var resp listClaimsResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, 1, resp.Count)
			require.Len(t, resp.Claims, 1)
			assert.Equal(t, "abc", resp.Claims[0].SourceTxID)
			assert.Equal(t, "2026-01-02T03:04:05Z", resp.Claims[0].ClaimedAt)
		})
	}
}

func TestListClaims_LedgerError(t *testing.T) {
	svc := &fakeBridge{claimErr: errors.New("connection refused")}
	rec := httptest.NewRecorder()
	handleListClaims(svc, testLogger()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/claims", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection refused")
}

func TestEventSubject(t *testing.T) {
	tests := []struct {
		outcome string
		want    string
		wantErr bool
	}{
		{"", "bridge.>", false},
		{"completed", "bridge.completed", false},
		{"rejected", "bridge.rejected", false},
		{"manual_action", "bridge.manual_action", false},
		{"bogus", "", true},
		{"bridge.>", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.outcome, func(t *testing.T) {
			got, err := eventSubject(tt.outcome)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestServerHandler_Routes(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics(registry)
	svc := &fakeBridge{stats: bridge.Stats{ProcessedCount: 1}}
	srv := New(":0", svc, nil, nil, m, testLogger()).WithGatherer(registry)
	h := srv.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/v1/bridge", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/bridge", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	// SSE routes are not registered without a publisher
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/stream/events", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestServerHandler_NoMetrics(t *testing.T) {
	h := New(":0", &fakeBridge{}, nil, nil, nil, testLogger()).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
