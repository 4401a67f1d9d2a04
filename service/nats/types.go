package nats

import (
	"time"
)

// Outcome classifies a processed bridge request for routing on the bus.
type Outcome string

const (
	OutcomeCompleted    Outcome = "completed"
	OutcomeRejected     Outcome = "rejected"
	OutcomeManualAction Outcome = "manual_action"
)

// Subject returns the JetStream subject events with this outcome are published on.
func (o Outcome) Subject() string {
	return SubjectPrefix + string(o)
}

// BridgeEvent is published once per processed bridge request on
// "bridge.{outcome}". Manual action events are operational alerts: the
// source transaction is claimed but the payout did not complete.
type BridgeEvent struct {
	// Request identifiers
	SourceTxID string  `json:"source_tx_id"`
	Outcome    Outcome `json:"outcome"`

	// Routing
	Network      string `json:"network"`
	SolanaWallet string `json:"solana_wallet,omitempty"`
	TargetWallet string `json:"target_wallet"`

	// Amounts as decimal strings
	ClaimedAmount  string `json:"claimed_amount"`
	VerifiedAmount string `json:"verified_amount,omitempty"`

	// Payout
	TxHash      string `json:"tx_hash,omitempty"`
	ExplorerURL string `json:"explorer_url,omitempty"`

	// Failure information
	ErrorCode            string `json:"error_code,omitempty"`
	Error                string `json:"error,omitempty"`
	RequiresManualAction bool   `json:"requires_manual_action"`

	// Timing information
	ProcessedAt time.Time `json:"processed_at"`
	PublishedAt time.Time `json:"published_at"`
}
