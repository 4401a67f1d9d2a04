package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/brojonat/solbridge/service/bridge"
	"github.com/brojonat/solbridge/service/tracker"
	"github.com/shopspring/decimal"
)

const (
	maxRequestBodySize = 1 << 16 // 64KB - a bridge request is a few hundred bytes
	maxSignatureLength = 100     // Solana signatures are 87-88 chars
	defaultClaimsLimit = 100
	maxClaimsLimit     = 1000
)

var (
	// Valid base58 characters (no 0, O, I, l)
	base58Regex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)
)

// BridgeService is the orchestrator as seen by the HTTP layer.
type BridgeService interface {
	ProcessBridgeRequest(ctx context.Context, req bridge.Request) bridge.Result
	Stats(ctx context.Context) bridge.Stats
	Claims(ctx context.Context, limit int) ([]tracker.Claim, error)
	CheckHotWalletBalances(ctx context.Context) bridge.HotWalletBalances
}

// BridgeRunner executes a bridge request durably. *temporal.Client satisfies it.
type BridgeRunner interface {
	ExecuteBridge(ctx context.Context, req bridge.Request) (bridge.Result, error)
}

type submitBridgeRequest struct {
	SolanaWallet  string          `json:"solana_wallet"`
	TargetWallet  string          `json:"target_wallet"`
	NetworkTarget string          `json:"network_target"`
	AmountUSDC    decimal.Decimal `json:"amount_usdc"`
	SourceTxID    string          `json:"source_tx_id"`
	Timestamp     *time.Time      `json:"timestamp,omitempty"`
}

// handleSubmitBridge returns a handler that processes a bridge request.
// POST /api/v1/bridge
//
// When runner is non-nil the request runs as a Temporal workflow; otherwise it
// runs in-process. The status code reflects the outcome: 200 paid, 409
// duplicate, 422 rejected, 502 claimed but unpaid, 503 claim ledger down.
func handleSubmitBridge(svc BridgeService, runner BridgeRunner, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var body submitBridgeRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			logger.Debug("failed to decode bridge request", "error", err)
			if strings.Contains(err.Error(), "http: request body too large") {
				writeError(w, "request body too large", http.StatusBadRequest)
				return
			}
			writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
			return
		}

		if err := validateSignature(body.SourceTxID); err != nil {
			logger.Debug("invalid source_tx_id", "source_tx_id", body.SourceTxID, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if body.SolanaWallet != "" {
			if err := validateBase58("solana_wallet", body.SolanaWallet); err != nil {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
		}

		submittedAt := time.Now().UTC()
		if body.Timestamp != nil && !body.Timestamp.IsZero() {
			submittedAt = body.Timestamp.UTC()
		}

		req := bridge.Request{
			SolanaWallet:  body.SolanaWallet,
			TargetWallet:  strings.TrimSpace(body.TargetWallet),
			NetworkTarget: body.NetworkTarget,
			AmountUSDC:    body.AmountUSDC,
			SourceTxID:    body.SourceTxID,
			Timestamp:     submittedAt,
		}

		var result bridge.Result
		if runner != nil {
			var err error
			result, err = runner.ExecuteBridge(r.Context(), req)
			if err != nil {
				logger.Error("bridge workflow failed", "source_tx_id", req.SourceTxID, "error", err)
				writeError(w, "bridge workflow failed", http.StatusInternalServerError)
				return
			}
		} else {
			result = svc.ProcessBridgeRequest(r.Context(), req)
		}

		writeJSON(w, result, statusForResult(result))
	})
}

// statusForResult maps a bridge outcome to an HTTP status code.
func statusForResult(result bridge.Result) int {
	if result.Success {
		return http.StatusOK
	}
	switch result.ErrorCode {
	case bridge.ErrDuplicateTransaction:
		return http.StatusConflict
	case bridge.ErrInvalidRequest:
		return http.StatusBadRequest
	case bridge.ErrClaimUnavailable:
		return http.StatusServiceUnavailable
	case bridge.ErrPayoutFailed:
		return http.StatusBadGateway
	default:
		return http.StatusUnprocessableEntity
	}
}

// handleGetStats returns the orchestrator's counters.
// GET /api/v1/stats
func handleGetStats(svc BridgeService, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, svc.Stats(r.Context()), http.StatusOK)
	})
}

// handleGetBalances returns the hot wallet balance per network.
// GET /api/v1/balances
func handleGetBalances(svc BridgeService, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		balances := svc.CheckHotWalletBalances(r.Context())
		logger.Debug("hot wallet balances read", "balances", balances)
		writeJSON(w, balances, http.StatusOK)
	})
}

type claimResponse struct {
	SourceTxID string `json:"source_tx_id"`
	ClaimedAt  string `json:"claimed_at"`
}

type listClaimsResponse struct {
	Claims []claimResponse `json:"claims"`
	Count  int             `json:"count"`
}

// handleListClaims lists claimed source transactions, newest first.
// GET /api/v1/claims?limit={n}
func handleListClaims(svc BridgeService, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit := defaultClaimsLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				writeError(w, "limit must be a positive integer", http.StatusBadRequest)
				return
			}
			if n > maxClaimsLimit {
				n = maxClaimsLimit
			}
			limit = n
		}

		claims, err := svc.Claims(r.Context(), limit)
		if err != nil {
			logger.Error("failed to list claims", "error", err)
			writeError(w, "failed to list claims", http.StatusInternalServerError)
			return
		}

		resp := listClaimsResponse{
			Claims: make([]claimResponse, 0, len(claims)),
			Count:  len(claims),
		}
		for _, c := range claims {
			resp.Claims = append(resp.Claims, claimResponse{
				SourceTxID: c.SourceTxID,
				ClaimedAt:  c.ClaimedAt.UTC().Format(time.RFC3339Nano),
			})
		}
		writeJSON(w, resp, http.StatusOK)
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// validateSignature validates a Solana transaction signature.
func validateSignature(sig string) error {
	if sig == "" {
		return errorf("source_tx_id is required")
	}
	if len(sig) > maxSignatureLength {
		return errorf("source_tx_id too long: maximum length is %d characters", maxSignatureLength)
	}
	return validateBase58("source_tx_id", sig)
}

// validateBase58 rejects control characters and anything outside the base58 alphabet.
func validateBase58(field, value string) error {
	for _, r := range value {
		if r == 0 || unicode.IsControl(r) {
			return errorf("invalid characters in %s: control characters not allowed", field)
		}
	}
	if !base58Regex.MatchString(value) {
		return errorf("invalid %s format: must contain only valid base58 characters", field)
	}
	return nil
}

// errorf is a helper to format error strings.
func errorf(format string, args ...interface{}) error {
	return &validationError{msg: strings.TrimSpace(fmt.Sprintf(format, args...))}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}
