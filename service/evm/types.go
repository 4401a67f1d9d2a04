package evm

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// FailureReason classifies why a payout did not complete.
type FailureReason string

const (
	FailureUnsupportedNetwork  FailureReason = "UnsupportedNetwork"
	FailureInvalidTarget       FailureReason = "InvalidTargetWallet"
	FailureInvalidAmount       FailureReason = "InvalidAmount"
	FailureInsufficientBalance FailureReason = "InsufficientHotWalletBalance"
	FailureGasEstimation       FailureReason = "GasEstimationFailed"
	FailureSubmission          FailureReason = "SubmissionFailed"
	FailureTransactionReverted FailureReason = "TransactionReverted"
	FailureConfirmationTimeout FailureReason = "ConfirmationTimeout"
	FailureBalanceCheck        FailureReason = "BalanceCheckFailed"
)

// TransferResult is the outcome of SendUSDC. TxHash is set whenever a
// transaction was submitted, including reverted and timed-out ones.
type TransferResult struct {
	Success     bool          `json:"success"`
	TxHash      string        `json:"tx_hash,omitempty"`
	GasUsed     uint64        `json:"gas_used,omitempty"`
	BlockNumber uint64        `json:"block_number,omitempty"`
	ExplorerURL string        `json:"explorer_url,omitempty"`
	Reason      FailureReason `json:"reason,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// Balance is a hot wallet USDC balance.
type Balance struct {
	Raw       *big.Int        `json:"raw"`
	Formatted decimal.Decimal `json:"formatted"`
}

// ToBaseUnits converts whole USDC to base units, truncating anything below
// the token's precision.
func ToBaseUnits(amount decimal.Decimal) *big.Int {
	return amount.Shift(USDCDecimals).Truncate(0).BigInt()
}

// FromBaseUnits converts base units to whole USDC.
func FromBaseUnits(raw *big.Int) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -USDCDecimals)
}
