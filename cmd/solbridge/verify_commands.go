package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/brojonat/solbridge/service/evm"
	"github.com/brojonat/solbridge/service/solana"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/urfave/cli/v2"
)

// verifyCommand checks a deposit directly against Solana, without claiming it.
func verifyCommand() *cli.Command {
	return &cli.Command{
		Name:      "verify",
		Usage:     "Verify a Solana USDC deposit without bridging it",
		ArgsUsage: "SIGNATURE",
		Description: `Fetch the transaction from Solana RPC and check that it is a successful
USDC transfer into the deposit wallet. Nothing is claimed or paid.

Example:
  solbridge verify 5VERv8NMvzbJMEkV8xnrLkEaWRtSz9CosKDYjCJjBRnb... --json`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "rpc-url",
				Usage:   "Solana RPC URL (comma-separated list picks one at random)",
				EnvVars: []string{"SOLANA_RPC_URL"},
				Value:   "https://api.mainnet-beta.solana.com",
			},
			&cli.StringFlag{
				Name:     "deposit-wallet",
				Usage:    "Bridge deposit wallet address",
				EnvVars:  []string{"DEPOSIT_WALLET_ADDRESS"},
				Required: true,
			},
			&cli.StringFlag{
				Name:    "usdc-mint",
				Usage:   "USDC mint address",
				EnvVars: []string{"USDC_MINT_ADDRESS"},
				Value:   "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Per-RPC-call timeout",
				Value: 15 * time.Second,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("transaction signature is required")
			}

			endpoint, err := solana.SelectRandomEndpoint(solana.SplitEndpoints(c.String("rpc-url")))
			if err != nil {
				return err
			}

			logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
			verifier, err := solana.NewVerifier(solana.NewRPCClient(endpoint), solana.VerifierConfig{
				DepositWallet: c.String("deposit-wallet"),
				USDCMint:      c.String("usdc-mint"),
				Timeout:       c.Duration("timeout"),
			}, nil, logger)
			if err != nil {
				return err
			}

			result := verifier.VerifyTransaction(context.Background(), c.Args().First())
			if c.Bool("json") {
				if err := printJSON(result); err != nil {
					return err
				}
			} else {
				printVerification(result)
			}

			if !result.IsValid {
				return fmt.Errorf("deposit did not verify: %s", result.Reason)
			}
			return nil
		},
	}
}

func printVerification(r solana.VerificationResult) {
	if r.IsValid {
		fmt.Println("✓ Deposit verified")
	} else {
		fmt.Printf("✗ Deposit not valid (%s)\n", r.Reason)
		fmt.Printf("  Error:      %s\n", r.Error)
	}
	if d := r.Details; d != nil {
		fmt.Printf("  Signature:  %s\n", d.Signature)
		fmt.Printf("  Amount:     %s USDC\n", d.Amount.String())
		fmt.Printf("  From:       %s\n", d.From)
		fmt.Printf("  To:         %s\n", d.To)
		fmt.Printf("  Slot:       %d\n", d.Slot)
		fmt.Printf("  Status:     %s\n", d.ConfirmationStatus)
		if !d.BlockTime.IsZero() {
			fmt.Printf("  Block Time: %s\n", d.BlockTime.Format(time.RFC3339))
		}
	}
}

func hotWalletCommands() *cli.Command {
	return &cli.Command{
		Name:  "hot-wallet",
		Usage: "Hot wallet inspection commands",
		Subcommands: []*cli.Command{
			hotWalletAddressCommand(),
		},
	}
}

// hotWalletAddressCommand prints the address derived from each configured
// signing key, so operators know where to fund.
func hotWalletAddressCommand() *cli.Command {
	return &cli.Command{
		Name:  "address",
		Usage: "Show the hot wallet address derived from <NETWORK>_HOT_WALLET_PRIVATE_KEY",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "network",
				Aliases: []string{"n"},
				Usage:   "Only show this network (ETH or AVAX)",
			},
		},
		Action: func(c *cli.Context) error {
			networks := evm.SupportedNetworks()
			if n := c.String("network"); n != "" {
				network, err := evm.ParseNetwork(n)
				if err != nil {
					return err
				}
				networks = []evm.Network{network}
			}

			out := make(map[string]string, len(networks))
			for _, network := range networks {
				key := os.Getenv(string(network) + "_HOT_WALLET_PRIVATE_KEY")
				if key == "" {
					out[string(network)] = "not configured"
					continue
				}
				addr, err := addressFromKey(key)
				if err != nil {
					return fmt.Errorf("%s: %w", network, err)
				}
				out[string(network)] = addr
			}

			if c.Bool("json") {
				return printJSON(out)
			}
			for _, network := range networks {
				fmt.Printf("%-5s %s\n", network, out[string(network)])
			}
			return nil
		},
	}
}

func addressFromKey(hexKey string) (string, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return "", fmt.Errorf("invalid private key: %w", err)
	}
	return crypto.PubkeyToAddress(key.PublicKey).Hex(), nil
}
