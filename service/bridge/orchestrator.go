package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/brojonat/solbridge/service/evm"
	"github.com/brojonat/solbridge/service/metrics"
	natspkg "github.com/brojonat/solbridge/service/nats"
	"github.com/brojonat/solbridge/service/solana"
	"github.com/brojonat/solbridge/service/tracker"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// DefaultAmountTolerance is the largest accepted difference between the
// claimed and the verified amount.
var DefaultAmountTolerance = decimal.RequireFromString("0.01")

// Verifier verifies Solana deposits. *solana.Verifier satisfies it.
type Verifier interface {
	VerifyTransaction(ctx context.Context, signature string) solana.VerificationResult
}

// Payer sends EVM payouts. *evm.Service satisfies it.
type Payer interface {
	SendUSDC(ctx context.Context, target string, network evm.Network, amount decimal.Decimal) evm.TransferResult
	CheckBalance(ctx context.Context, network evm.Network) (evm.Balance, error)
}

// Config holds the bridge bounds.
type Config struct {
	MinAmount decimal.Decimal
	MaxAmount decimal.Decimal

	// AmountTolerance defaults to DefaultAmountTolerance when zero.
	AmountTolerance decimal.Decimal
}

// Orchestrator runs the bridge pipeline: dedupe, verify, validate, claim, pay.
type Orchestrator struct {
	verifier  Verifier
	payer     Payer
	tracker   *tracker.Tracker
	publisher natspkg.Publisher
	cfg       Config
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// NewOrchestrator wires the pipeline. The tracker is shared by every request
// in the process; publisher and metrics may be nil.
func NewOrchestrator(
	verifier Verifier,
	payer Payer,
	t *tracker.Tracker,
	publisher natspkg.Publisher,
	cfg Config,
	m *metrics.Metrics,
	logger *slog.Logger,
) (*Orchestrator, error) {
	if verifier == nil || payer == nil || t == nil {
		return nil, fmt.Errorf("verifier, payer and tracker are required")
	}
	if cfg.AmountTolerance.IsZero() {
		cfg.AmountTolerance = DefaultAmountTolerance
	}
	if cfg.MinAmount.IsNegative() || cfg.MaxAmount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("invalid bridge bounds: min %s, max %s", cfg.MinAmount, cfg.MaxAmount)
	}
	if cfg.MinAmount.GreaterThan(cfg.MaxAmount) {
		return nil, fmt.Errorf("min amount %s exceeds max amount %s", cfg.MinAmount, cfg.MaxAmount)
	}

	return &Orchestrator{
		verifier:  verifier,
		payer:     payer,
		tracker:   t,
		publisher: publisher,
		cfg:       cfg,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// ProcessBridgeRequest runs one request through the pipeline. Every outcome,
// including payout failure, is reported in the Result.
func (o *Orchestrator) ProcessBridgeRequest(ctx context.Context, req Request) Result {
	start := time.Now()
	logger := o.logger.With(
		"source_tx_id", req.SourceTxID,
		"network", req.NetworkTarget,
		"target_wallet", req.TargetWallet,
	)

	logger.InfoContext(ctx, "processing bridge request", "amount_usdc", req.AmountUSDC.String())

	result := o.process(ctx, req, logger)
	result.Timestamp = o.now().UTC()

	if o.metrics != nil {
		outcome := "success"
		if !result.Success {
			outcome = string(result.ErrorCode)
		}
		o.metrics.RecordBridgeRequest(string(result.Network), outcome, time.Since(start).Seconds())
	}

	switch {
	case result.Success:
		logger.InfoContext(ctx, "bridge request completed",
			"tx_hash", result.EVMTransfer.TxHash,
			"duration", time.Since(start),
		)
	case result.RequiresManualAction:
		logger.ErrorContext(ctx, "bridge request claimed but unpaid, manual action required",
			"error_code", result.ErrorCode,
			"error", result.Error,
		)
	default:
		logger.WarnContext(ctx, "bridge request rejected",
			"error_code", result.ErrorCode,
			"error", result.Error,
		)
	}

	o.publish(ctx, req, result, logger)
	return result
}

func (o *Orchestrator) process(ctx context.Context, req Request, logger *slog.Logger) Result {
	result := Result{SourceTxID: req.SourceTxID}

	if strings.TrimSpace(req.SourceTxID) == "" {
		return reject(result, ErrInvalidRequest, "source_tx_id is required")
	}

	// Step 1: Duplicate check. A claimed id is a duplicate whatever the rest
	// of the payload says.
	if o.tracker.IsProcessed(ctx, req.SourceTxID) {
		return reject(result, ErrDuplicateTransaction,
			fmt.Sprintf("source transaction %s has already been processed", req.SourceTxID))
	}

	network, err := validateRequest(req)
	if err != nil {
		return reject(result, ErrInvalidRequest, err.Error())
	}
	result.Network = network

	// Step 2: Verify on Solana
	verification := o.verifier.VerifyTransaction(ctx, req.SourceTxID)
	result.SolanaVerification = verification
	if !verification.IsValid {
		return reject(result, ErrVerificationFailed,
			fmt.Sprintf("solana verification failed (%s): %s", verification.Reason, verification.Error))
	}
	verified := verification.Details.Amount

	// Step 3: Claimed vs verified amount
	if req.AmountUSDC.Sub(verified).Abs().GreaterThan(o.cfg.AmountTolerance) {
		return reject(result, ErrAmountMismatch, fmt.Sprintf(
			"claimed amount %s USDC does not match verified amount %s USDC",
			req.AmountUSDC.String(), verified.String()))
	}

	// Step 4: Bridge bounds
	if verified.LessThan(o.cfg.MinAmount) || verified.GreaterThan(o.cfg.MaxAmount) {
		return reject(result, ErrAmountOutOfRange, fmt.Sprintf(
			"verified amount %s USDC is outside the allowed range [%s, %s]",
			verified.String(), o.cfg.MinAmount.String(), o.cfg.MaxAmount.String()))
	}

	// Step 5: Atomic claim. Concurrent requests for the same id can all pass
	// step 1; exactly one gets past this point.
	duplicate, err := o.tracker.CheckAndMark(ctx, req.SourceTxID)
	if err != nil {
		return reject(result, ErrClaimUnavailable,
			fmt.Sprintf("could not record claim for %s, retry later: %v", req.SourceTxID, err))
	}
	if duplicate {
		return reject(result, ErrDuplicateTransaction,
			fmt.Sprintf("source transaction %s was claimed by a concurrent request", req.SourceTxID))
	}
	logger.InfoContext(ctx, "claimed source transaction", "verified_amount", verified.String())

	// Step 6: Pay the verified amount. The claim is held from here on, so the
	// payout must not be abandoned because the caller went away.
	transfer := o.payer.SendUSDC(context.WithoutCancel(ctx), req.TargetWallet, network, verified)
	result.EVMTransfer = &transfer
	if !transfer.Success {
		result = reject(result, ErrPayoutFailed, fmt.Sprintf("payout failed (%s): %s", transfer.Reason, transfer.Error))
		result.RequiresManualAction = true
		return result
	}

	// Step 7: Assemble result
	result.Success = true
	return result
}

// validateRequest checks the payload without I/O. A bad target wallet is
// caught here so it can never hold a claim.
func validateRequest(req Request) (evm.Network, error) {
	network, err := evm.ParseNetwork(req.NetworkTarget)
	if err != nil {
		return "", err
	}
	if !common.IsHexAddress(req.TargetWallet) {
		return network, fmt.Errorf("invalid target wallet %q", req.TargetWallet)
	}
	if !req.AmountUSDC.IsPositive() {
		return network, fmt.Errorf("amount_usdc must be positive")
	}
	return network, nil
}

func reject(result Result, code ErrorCode, msg string) Result {
	result.Success = false
	result.ErrorCode = code
	result.Error = msg
	return result
}

func (o *Orchestrator) publish(ctx context.Context, req Request, result Result, logger *slog.Logger) {
	if o.publisher == nil {
		return
	}

	event := &natspkg.BridgeEvent{
		SourceTxID:           req.SourceTxID,
		Outcome:              outcomeOf(result),
		Network:              string(result.Network),
		SolanaWallet:         req.SolanaWallet,
		TargetWallet:         req.TargetWallet,
		ClaimedAmount:        req.AmountUSDC.String(),
		ErrorCode:            string(result.ErrorCode),
		Error:                result.Error,
		RequiresManualAction: result.RequiresManualAction,
		ProcessedAt:          result.Timestamp,
	}
	if d := result.SolanaVerification.Details; d != nil {
		event.VerifiedAmount = d.Amount.String()
	}
	if result.EVMTransfer != nil {
		event.TxHash = result.EVMTransfer.TxHash
		event.ExplorerURL = result.EVMTransfer.ExplorerURL
	}

	// Publish even if the caller has gone away; the event describes work
	// that already happened.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := o.publisher.PublishBridgeEvent(pubCtx, event); err != nil {
		logger.ErrorContext(ctx, "failed to publish bridge event",
			"outcome", event.Outcome,
			"error", err,
		)
	}
}

func outcomeOf(result Result) natspkg.Outcome {
	switch {
	case result.Success:
		return natspkg.OutcomeCompleted
	case result.RequiresManualAction:
		return natspkg.OutcomeManualAction
	default:
		return natspkg.OutcomeRejected
	}
}

// Stats returns a snapshot of the orchestrator's counters.
func (o *Orchestrator) Stats(ctx context.Context) Stats {
	return Stats{ProcessedCount: o.tracker.ProcessedCount(ctx)}
}

// Claims lists claimed source transactions, newest first.
func (o *Orchestrator) Claims(ctx context.Context, limit int) ([]tracker.Claim, error) {
	return o.tracker.Claims(ctx, limit)
}

// CheckHotWalletBalances reads the hot wallet of every supported network. A
// network whose read fails reports BalanceError instead of failing the call.
func (o *Orchestrator) CheckHotWalletBalances(ctx context.Context) HotWalletBalances {
	out := make(HotWalletBalances)
	for _, network := range evm.SupportedNetworks() {
		key := strings.ToLower(string(network))
		bal, err := o.payer.CheckBalance(ctx, network)
		if err != nil {
			o.logger.WarnContext(ctx, "failed to read hot wallet balance",
				"network", network,
				"error", err,
			)
			out[key] = BalanceError
			continue
		}
		out[key] = bal.Formatted.StringFixed(evm.USDCDecimals)
	}
	return out
}
