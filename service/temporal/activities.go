package temporal

import (
	"context"
	"log/slog"
	"time"

	"github.com/brojonat/solbridge/service/bridge"
	"go.temporal.io/sdk/activity"
)

// BridgeProcessor is the part of the orchestrator the activities call.
// *bridge.Orchestrator satisfies it.
type BridgeProcessor interface {
	ProcessBridgeRequest(ctx context.Context, req bridge.Request) bridge.Result
	CheckHotWalletBalances(ctx context.Context) bridge.HotWalletBalances
}

// CheckBalancesResult contains the result of the CheckHotWalletBalances activity.
type CheckBalancesResult struct {
	Balances  bridge.HotWalletBalances `json:"balances"`
	CheckedAt time.Time                `json:"checked_at"`
}

// Activities holds the dependencies for bridge activities.
type Activities struct {
	processor BridgeProcessor
	logger    *slog.Logger
}

// NewActivities creates a new Activities instance.
func NewActivities(processor BridgeProcessor, logger *slog.Logger) *Activities {
	return &Activities{
		processor: processor,
		logger:    logger,
	}
}

// ProcessBridgeRequest runs one bridge request through the orchestrator.
// Rejections and payout failures come back as a Result, not an error, so
// Temporal never sees a reason to retry.
func (a *Activities) ProcessBridgeRequest(ctx context.Context, req bridge.Request) (*bridge.Result, error) {
	info := activity.GetInfo(ctx)
	a.logger.InfoContext(ctx, "processing bridge request activity",
		"source_tx_id", req.SourceTxID,
		"workflow_id", info.WorkflowExecution.ID,
		"attempt", info.Attempt,
	)

	// Heartbeat while the payout waits for confirmation.
	heartbeatCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-heartbeatCtx.Done():
				return
			case <-ticker.C:
				activity.RecordHeartbeat(ctx, req.SourceTxID)
			}
		}
	}()

	result := a.processor.ProcessBridgeRequest(ctx, req)
	return &result, nil
}

// CheckHotWalletBalances reads every hot wallet balance. Reading the balances
// also refreshes the balance gauges.
func (a *Activities) CheckHotWalletBalances(ctx context.Context) (*CheckBalancesResult, error) {
	balances := a.processor.CheckHotWalletBalances(ctx)

	for network, balance := range balances {
		if balance == bridge.BalanceError {
			a.logger.WarnContext(ctx, "hot wallet balance unavailable", "network", network)
		}
	}

	return &CheckBalancesResult{
		Balances:  balances,
		CheckedAt: time.Now().UTC(),
	}, nil
}
