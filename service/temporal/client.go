package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/solbridge/service/bridge"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
)

// Client starts bridge workflows and manages the balance check schedule.
type Client struct {
	client    client.Client
	taskQueue string
	logger    *slog.Logger
}

// NewClient creates a new Temporal client.
func NewClient(host, namespace, taskQueue string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")

	return &Client{
		client:    c,
		taskQueue: taskQueue,
		logger:    logger,
	}, nil
}

// bridgeWorkflowOptions are the start options for a bridge workflow. A closed
// workflow may be started again for the same source transaction: rejections
// that leave the id unclaimed must stay resubmittable, and the claim tracker
// turns a resubmitted claimed id into a DuplicateTransaction. A start while a
// run is still open fails and the caller joins that run.
func bridgeWorkflowOptions(sourceTxID, taskQueue string) client.StartWorkflowOptions {
	return client.StartWorkflowOptions{
		ID:                                       BridgeWorkflowID(sourceTxID),
		TaskQueue:                                taskQueue,
		WorkflowIDReusePolicy:                    enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
		WorkflowExecutionTimeout:                 10 * time.Minute,
	}
}

// ExecuteBridge runs BridgeWorkflow for req and waits for its result. If a run
// for the same source transaction is already open, ExecuteBridge waits for it
// and reports its outcome through joinedResult.
func (c *Client) ExecuteBridge(ctx context.Context, req bridge.Request) (bridge.Result, error) {
	opts := bridgeWorkflowOptions(req.SourceTxID, c.taskQueue)

	run, err := c.client.ExecuteWorkflow(ctx, opts, BridgeWorkflow, req)
	if err != nil {
		var alreadyStarted *serviceerror.WorkflowExecutionAlreadyStarted
		if !errors.As(err, &alreadyStarted) {
			return bridge.Result{}, fmt.Errorf("failed to start bridge workflow: %w", err)
		}

		c.logger.WarnContext(ctx, "bridge workflow already running, joining it",
			"source_tx_id", req.SourceTxID,
			"workflow_id", opts.ID,
		)
		var running bridge.Result
		if err := c.client.GetWorkflow(ctx, opts.ID, "").Get(ctx, &running); err != nil {
			return bridge.Result{}, fmt.Errorf("bridge workflow failed: %w", err)
		}
		return joinedResult(req.SourceTxID, running, time.Now().UTC()), nil
	}

	c.logger.InfoContext(ctx, "started bridge workflow",
		"source_tx_id", req.SourceTxID,
		"workflow_id", run.GetID(),
		"run_id", run.GetRunID(),
	)

	var result bridge.Result
	if err := run.Get(ctx, &result); err != nil {
		return bridge.Result{}, fmt.Errorf("bridge workflow failed: %w", err)
	}
	return result, nil
}

// joinedResult is what a caller that joined another submission's run sees.
// If that run claimed the id, the joining caller gets DuplicateTransaction;
// an unclaimed rejection is passed through unchanged.
func joinedResult(sourceTxID string, running bridge.Result, now time.Time) bridge.Result {
	if !running.Success && !running.ErrorCode.Claimed() {
		return running
	}
	return bridge.Result{
		SourceTxID: sourceTxID,
		Network:    running.Network,
		ErrorCode:  bridge.ErrDuplicateTransaction,
		Error:      fmt.Sprintf("source transaction %s was claimed by a concurrent request", sourceTxID),
		Timestamp:  now,
	}
}

// UpsertBalanceSchedule creates the balance check schedule, or updates its
// interval if it already exists.
func (c *Client) UpsertBalanceSchedule(ctx context.Context, interval time.Duration) error {
	handle := c.client.ScheduleClient().GetHandle(ctx, BalanceScheduleID)
	if _, err := handle.Describe(ctx); err != nil {
		c.logger.Debug("schedule not found, creating new one",
			"schedule_id", BalanceScheduleID,
			"error", err,
		)

		_, err := c.client.ScheduleClient().Create(ctx, client.ScheduleOptions{
			ID: BalanceScheduleID,
			Spec: client.ScheduleSpec{
				Intervals: []client.ScheduleIntervalSpec{{Every: interval}},
			},
			Action: &client.ScheduleWorkflowAction{
				ID:        "balance-check",
				Workflow:  BalanceCheckWorkflow,
				TaskQueue: c.taskQueue,
			},
			Memo: map[string]interface{}{
				"created_by": "solbridge",
			},
		})
		if err != nil {
			return fmt.Errorf("failed to create schedule %q: %w", BalanceScheduleID, err)
		}

		c.logger.Info("balance check schedule created", "interval", interval)
		return nil
	}

	err := handle.Update(ctx, client.ScheduleUpdateOptions{
		DoUpdate: func(input client.ScheduleUpdateInput) (*client.ScheduleUpdate, error) {
			input.Description.Schedule.Spec.Intervals = []client.ScheduleIntervalSpec{
				{Every: interval},
			}
			return &client.ScheduleUpdate{
				Schedule: &input.Description.Schedule,
			}, nil
		},
	})
	if err != nil {
		return fmt.Errorf("failed to update schedule %q: %w", BalanceScheduleID, err)
	}

	c.logger.Info("balance check schedule updated", "interval", interval)
	return nil
}

// DeleteBalanceSchedule deletes the balance check schedule.
func (c *Client) DeleteBalanceSchedule(ctx context.Context) error {
	handle := c.client.ScheduleClient().GetHandle(ctx, BalanceScheduleID)
	if err := handle.Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete schedule %q: %w", BalanceScheduleID, err)
	}
	c.logger.Info("balance check schedule deleted")
	return nil
}

// SDKClient returns the underlying Temporal SDK client for direct workflow operations.
func (c *Client) SDKClient() client.Client {
	return c.client
}

// TaskQueue returns the configured task queue for this client.
func (c *Client) TaskQueue() string {
	return c.taskQueue
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}
