package bridge

import (
	"time"

	"github.com/brojonat/solbridge/service/evm"
	"github.com/brojonat/solbridge/service/solana"
	"github.com/shopspring/decimal"
)

// ErrorCode classifies a failed bridge request.
type ErrorCode string

const (
	// ErrInvalidRequest is a malformed request, rejected before any lookup.
	ErrInvalidRequest ErrorCode = "InvalidRequest"

	// ErrDuplicateTransaction means the source transaction was already claimed.
	ErrDuplicateTransaction ErrorCode = "DuplicateTransaction"

	// ErrVerificationFailed means the Solana deposit could not be verified.
	// The request is not claimed.
	ErrVerificationFailed ErrorCode = "VerificationFailed"

	// ErrAmountMismatch means the claimed amount differs from the verified one
	// by more than the tolerance. The request is not claimed.
	ErrAmountMismatch ErrorCode = "AmountMismatch"

	// ErrAmountOutOfRange means the verified amount is outside the bridge
	// bounds. The request is not claimed.
	ErrAmountOutOfRange ErrorCode = "AmountOutOfRange"

	// ErrClaimUnavailable means the claim ledger could not record the claim.
	// The request is not claimed and may be resubmitted.
	ErrClaimUnavailable ErrorCode = "ClaimUnavailable"

	// ErrPayoutFailed means the request is claimed but the EVM payout did not
	// complete. It is never retried automatically.
	ErrPayoutFailed ErrorCode = "PayoutFailed"
)

// Claimed reports whether a request failing with this code holds a claim.
func (c ErrorCode) Claimed() bool {
	return c == ErrPayoutFailed
}

// Request is an inbound bridge claim: the caller asserts AmountUSDC was sent
// on Solana in SourceTxID and asks for it on NetworkTarget.
type Request struct {
	SolanaWallet  string          `json:"solana_wallet"`
	TargetWallet  string          `json:"target_wallet"`
	NetworkTarget string          `json:"network_target"`
	AmountUSDC    decimal.Decimal `json:"amount_usdc"`
	SourceTxID    string          `json:"source_tx_id"`
	Timestamp     time.Time       `json:"timestamp"`
}

// Result is the single output of ProcessBridgeRequest.
type Result struct {
	Success              bool                      `json:"success"`
	SourceTxID           string                    `json:"source_tx_id"`
	Network              evm.Network               `json:"network,omitempty"`
	SolanaVerification   solana.VerificationResult `json:"solana_verification"`
	EVMTransfer          *evm.TransferResult       `json:"evm_transfer,omitempty"`
	ErrorCode            ErrorCode                 `json:"error_code,omitempty"`
	Error                string                    `json:"error,omitempty"`
	RequiresManualAction bool                      `json:"requires_manual_action"`
	Timestamp            time.Time                 `json:"timestamp"`
}

// Stats is a snapshot of the orchestrator's counters.
type Stats struct {
	ProcessedCount int `json:"processed_count"`
}

// BalanceError is reported in place of a balance when a network's read fails.
const BalanceError = "error"

// HotWalletBalances maps a lower-case network name ("eth", "avax") to the
// formatted USDC balance, or BalanceError.
type HotWalletBalances map[string]string
