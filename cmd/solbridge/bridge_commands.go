package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/brojonat/solbridge/client"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
)

func bridgeCommands() *cli.Command {
	return &cli.Command{
		Name:  "bridge",
		Usage: "HTTP client commands for interacting with the bridge service",
		Subcommands: []*cli.Command{
			submitCommand(),
			statsCommand(),
			balancesCommand(),
			claimsCommand(),
		},
	}
}

// newClient builds an API client from the global --server-url flag.
func newClient(c *cli.Context, timeout time.Duration) *client.Client {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError, // Only errors to stderr
	}))
	return client.NewClient(c.String("server-url"), &http.Client{Timeout: timeout}, logger)
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func submitCommand() *cli.Command {
	return &cli.Command{
		Name:      "submit",
		Usage:     "Submit a bridge request and wait for the outcome",
		ArgsUsage: "SOURCE_TX_SIGNATURE",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "target",
				Aliases:  []string{"t"},
				Usage:    "EVM address to receive the payout",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "network",
				Aliases: []string{"n"},
				Usage:   "Payout network (ETH or AVAX)",
				Value:   "AVAX",
			},
			&cli.StringFlag{
				Name:     "amount",
				Aliases:  []string{"a"},
				Usage:    "Deposited USDC amount, e.g. 50.00",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "solana-wallet",
				Usage: "Depositor's Solana wallet (informational)",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "How long to wait for the payout to confirm",
				Value: 3 * time.Minute,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("source transaction signature is required")
			}

			amount, err := decimal.NewFromString(c.String("amount"))
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", c.String("amount"), err)
			}

			req := client.BridgeRequest{
				SolanaWallet:  c.String("solana-wallet"),
				TargetWallet:  c.String("target"),
				NetworkTarget: c.String("network"),
				AmountUSDC:    amount,
				SourceTxID:    c.Args().First(),
			}

			jsonOutput := c.Bool("json")
			if !jsonOutput {
				fmt.Fprintf(os.Stderr, "Submitting bridge request for %s...\n\n", req.SourceTxID)
			}

			ctx, cancel := context.WithTimeout(context.Background(), c.Duration("timeout"))
			defer cancel()

			result, err := newClient(c, c.Duration("timeout")+10*time.Second).SubmitBridgeRequest(ctx, req)
			if err != nil {
				return fmt.Errorf("bridge request failed: %w", err)
			}

			if jsonOutput {
				if err := printJSON(result); err != nil {
					return err
				}
			} else {
				printResult(result)
			}

			if !result.Success {
				return fmt.Errorf("bridge request not completed: %s", result.ErrorCode)
			}
			return nil
		},
	}
}

func printResult(r *client.BridgeResult) {
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	if r.Success {
		fmt.Println("✓ Bridge Completed")
	} else if r.RequiresManualAction {
		fmt.Println("✗ Bridge Failed - MANUAL ACTION REQUIRED")
	} else {
		fmt.Println("✗ Bridge Rejected")
	}
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("Source Tx:   %s\n", r.SourceTxID)
	if r.Network != "" {
		fmt.Printf("Network:     %s\n", r.Network)
	}
	if d := r.SolanaVerification.Details; d != nil {
		fmt.Printf("Verified:    %s USDC (slot %d, %s)\n", d.Amount.String(), d.Slot, d.ConfirmationStatus)
	}
	if t := r.EVMTransfer; t != nil {
		if t.TxHash != "" {
			fmt.Printf("Payout Tx:   %s\n", t.TxHash)
		}
		if t.BlockNumber != 0 {
			fmt.Printf("Block:       %d (gas %d)\n", t.BlockNumber, t.GasUsed)
		}
		if t.ExplorerURL != "" {
			fmt.Printf("Explorer:    %s\n", t.ExplorerURL)
		}
	}
	if r.ErrorCode != "" {
		fmt.Printf("Error Code:  %s\n", r.ErrorCode)
		fmt.Printf("Error:       %s\n", r.Error)
	}
	fmt.Printf("Time:        %s\n", r.Timestamp.Format(time.RFC3339))
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
}

func statsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Show bridge counters",
		Action: func(c *cli.Context) error {
			stats, err := newClient(c, 10*time.Second).Stats(context.Background())
			if err != nil {
				return fmt.Errorf("failed to get stats: %w", err)
			}
			if c.Bool("json") {
				return printJSON(stats)
			}
			fmt.Printf("Processed: %d\n", stats.ProcessedCount)
			return nil
		},
	}
}

func balancesCommand() *cli.Command {
	return &cli.Command{
		Name:  "balances",
		Usage: "Show hot wallet USDC balance per network",
		Action: func(c *cli.Context) error {
			balances, err := newClient(c, 30*time.Second).Balances(context.Background())
			if err != nil {
				return fmt.Errorf("failed to get balances: %w", err)
			}
			if c.Bool("json") {
				return printJSON(balances)
			}

			networks := make([]string, 0, len(balances))
			for n := range balances {
				networks = append(networks, n)
			}
			sort.Strings(networks)

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NETWORK\tUSDC")
			for _, n := range networks {
				fmt.Fprintf(w, "%s\t%s\n", n, balances[n])
			}
			return w.Flush()
		},
	}
}

func claimsCommand() *cli.Command {
	return &cli.Command{
		Name:  "claims",
		Usage: "List claimed source transactions, newest first",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"l"},
				Usage:   "Maximum number of claims to show",
				Value:   20,
			},
		},
		Action: func(c *cli.Context) error {
			claims, err := newClient(c, 10*time.Second).Claims(context.Background(), c.Int("limit"))
			if err != nil {
				return fmt.Errorf("failed to list claims: %w", err)
			}
			if c.Bool("json") {
				return printJSON(claims)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SOURCE TX\tCLAIMED AT")
			for _, cl := range claims {
				fmt.Fprintf(w, "%s\t%s\n", cl.SourceTxID, cl.ClaimedAt.Format(time.RFC3339))
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d claims\n", len(claims))
			return nil
		},
	}
}

func healthCommand() *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "Check server health",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Request timeout",
				Value: 5 * time.Second,
			},
		},
		Action: func(c *cli.Context) error {
			serverURL := c.String("server-url")
			if serverURL == "" {
				return fmt.Errorf("server-url is required (set SERVER_URL env var or use --server-url)")
			}

			if err := newClient(c, c.Duration("timeout")).Health(context.Background()); err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}

			fmt.Printf("✓ Server is healthy\n")
			fmt.Printf("  URL: %s\n", serverURL)
			return nil
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Action: func(c *cli.Context) error {
			fmt.Printf("solbridge CLI\n")
			fmt.Printf("  Version: %s\n", version)
			fmt.Printf("  Commit:  %s\n", commit)
			fmt.Printf("  Built:   %s\n", date)
			return nil
		},
	}
}
