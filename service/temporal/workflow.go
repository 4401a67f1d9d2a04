package temporal

import (
	"fmt"
	"time"

	"github.com/brojonat/solbridge/service/bridge"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// BridgeWorkflowID returns the workflow id for a source transaction. At most
// one run per id is open at a time.
func BridgeWorkflowID(sourceTxID string) string {
	return "bridge-" + sourceTxID
}

// BridgeWorkflow processes one bridge request. The activity runs at most once:
// a payout must never be retried automatically.
func BridgeWorkflow(ctx workflow.Context, req bridge.Request) (*bridge.Result, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("BridgeWorkflow started",
		"source_tx_id", req.SourceTxID,
		"network", req.NetworkTarget,
	)

	activityOptions := workflow.ActivityOptions{
		// Solana verification plus the 60s confirmation wait with headroom.
		StartToCloseTimeout: 5 * time.Minute,
		HeartbeatTimeout:    time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions)

	var result *bridge.Result
	err := workflow.ExecuteActivity(ctx, "ProcessBridgeRequest", req).Get(ctx, &result)
	if err != nil {
		logger.Error("bridge activity failed", "source_tx_id", req.SourceTxID, "error", err)
		return nil, fmt.Errorf("bridge activity failed: %w", err)
	}

	logger.Info("BridgeWorkflow completed",
		"source_tx_id", req.SourceTxID,
		"success", result.Success,
		"error_code", result.ErrorCode,
		"requires_manual_action", result.RequiresManualAction,
	)

	return result, nil
}

// BalanceCheckWorkflow reads the hot wallet balances. It is started by the
// balance check schedule.
func BalanceCheckWorkflow(ctx workflow.Context) (*CheckBalancesResult, error) {
	logger := workflow.GetLogger(ctx)

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    10 * time.Second,
			MaximumAttempts:    3,
		},
	})

	var result *CheckBalancesResult
	if err := workflow.ExecuteActivity(ctx, "CheckHotWalletBalances").Get(ctx, &result); err != nil {
		logger.Error("balance check failed", "error", err)
		return nil, fmt.Errorf("balance check failed: %w", err)
	}

	logger.Info("hot wallet balances checked", "balances", result.Balances)
	return result, nil
}
