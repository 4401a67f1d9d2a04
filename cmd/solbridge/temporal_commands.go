package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/brojonat/solbridge/service/temporal"
	"github.com/urfave/cli/v2"
	"go.temporal.io/sdk/client"
)

func temporalCommands() *cli.Command {
	return &cli.Command{
		Name:  "temporal",
		Usage: "Temporal inspection and management commands",
		Subcommands: []*cli.Command{
			describeScheduleCommand(),
			setScheduleCommand(),
			describeBridgeCommand(),
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "task-queue",
				Usage:   "Temporal task queue the worker listens on",
				EnvVars: []string{"TEMPORAL_TASK_QUEUE"},
				Value:   "solbridge",
			},
		},
	}
}

func describeScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:    "describe-schedule",
		Usage:   "Describe the hot wallet balance check schedule",
		Aliases: []string{"desc"},
		Action: func(c *cli.Context) error {
			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			ctx := context.Background()
			handle := tc.SDKClient().ScheduleClient().GetHandle(ctx, temporal.BalanceScheduleID)
			desc, err := handle.Describe(ctx)
			if err != nil {
				return fmt.Errorf("failed to describe schedule: %w", err)
			}

			fmt.Printf("Schedule ID:    %s\n", temporal.BalanceScheduleID)
			fmt.Printf("Paused:         %v\n", desc.Schedule.State.Paused)

			if action, ok := desc.Schedule.Action.(*client.ScheduleWorkflowAction); ok {
				fmt.Printf("\nWorkflow:\n")
				fmt.Printf("  Workflow:     %v\n", action.Workflow)
				fmt.Printf("  Task Queue:   %s\n", action.TaskQueue)
			}

			for i, interval := range desc.Schedule.Spec.Intervals {
				fmt.Printf("  Interval %d:   Every %v\n", i+1, interval.Every)
			}

			fmt.Printf("\nRecent Actions: %d\n", len(desc.Info.RecentActions))
			if n := len(desc.Info.RecentActions); n > 0 {
				fmt.Printf("Last Action:  %s\n", desc.Info.RecentActions[n-1].ActualTime.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func setScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:  "set-schedule",
		Usage: "Create, update or (with --interval 0) delete the balance check schedule",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:     "interval",
				Usage:    "How often to read hot wallet balances",
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			interval := c.Duration("interval")
			logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
			if err := temporal.ConfigureBalanceSchedule(context.Background(), tc, interval, logger); err != nil {
				return err
			}

			if interval <= 0 {
				fmt.Printf("✓ Balance check schedule removed\n")
			} else {
				fmt.Printf("✓ Balance check schedule runs every %s\n", interval)
			}
			return nil
		},
	}
}

func describeBridgeCommand() *cli.Command {
	return &cli.Command{
		Name:      "describe-bridge",
		Usage:     "Show the workflow execution for a source transaction",
		ArgsUsage: "SOURCE_TX_SIGNATURE",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: source transaction signature")
			}

			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			workflowID := temporal.BridgeWorkflowID(c.Args().First())
			resp, err := tc.SDKClient().DescribeWorkflowExecution(context.Background(), workflowID, "")
			if err != nil {
				return fmt.Errorf("failed to describe workflow %s: %w", workflowID, err)
			}

			info := resp.GetWorkflowExecutionInfo()
			fmt.Printf("Workflow ID:  %s\n", workflowID)
			fmt.Printf("Run ID:       %s\n", info.GetExecution().GetRunId())
			fmt.Printf("Status:       %s\n", info.GetStatus().String())
			fmt.Printf("Started:      %s\n", info.GetStartTime().AsTime().Format(time.RFC3339))
			if ct := info.GetCloseTime(); ct != nil {
				fmt.Printf("Closed:       %s\n", ct.AsTime().Format(time.RFC3339))
			}
			return nil
		},
	}
}

// getTemporalClient connects using the global host and namespace flags.
func getTemporalClient(c *cli.Context) (*temporal.Client, error) {
	host := c.String("temporal-host")
	if host == "" {
		host = "localhost:7233"
	}
	namespace := c.String("temporal-namespace")
	if namespace == "" {
		namespace = "default"
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return temporal.NewClient(host, namespace, c.String("task-queue"), logger)
}
