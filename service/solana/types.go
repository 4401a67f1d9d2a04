package solana

import (
	"time"

	"github.com/shopspring/decimal"
)

// FailureReason classifies why a deposit did not verify.
type FailureReason string

const (
	FailureNotFound         FailureReason = "NotFound"
	FailureOnChainError     FailureReason = "OnChainError"
	FailureNoTransferFound  FailureReason = "NoTransferFound"
	FailureWrongDestination FailureReason = "WrongDestination"
	FailureWrongToken       FailureReason = "WrongToken"
	FailureInvalidSignature FailureReason = "InvalidSignature"
	FailureRPCError         FailureReason = "RPCError"
)

// VerificationDetails describes the SPL token transfer found in a transaction.
type VerificationDetails struct {
	Signature          string          `json:"signature"`
	Slot               uint64          `json:"slot"`
	BlockTime          time.Time       `json:"block_time"`
	From               string          `json:"from"`
	To                 string          `json:"to"`
	Amount             decimal.Decimal `json:"amount"`
	RawAmount          uint64          `json:"raw_amount"`
	TokenMint          string          `json:"token_mint,omitempty"`
	ConfirmationStatus string          `json:"confirmation_status"`
}

// VerificationResult is computed fresh for every request and never cached.
// Details is always set when IsValid is true. It may also be set on a
// WrongDestination or WrongToken failure to aid diagnosis.
type VerificationResult struct {
	IsValid bool                 `json:"is_valid"`
	Reason  FailureReason        `json:"reason,omitempty"`
	Error   string               `json:"error,omitempty"`
	Details *VerificationDetails `json:"details,omitempty"`
}

func failed(reason FailureReason, msg string) VerificationResult {
	return VerificationResult{
		IsValid: false,
		Reason:  reason,
		Error:   msg,
	}
}
