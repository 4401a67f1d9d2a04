package solana

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/brojonat/solbridge/service/metrics"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real Solana nodes.
type RPCClient interface {
	GetTransaction(
		ctx context.Context,
		signature solana.Signature,
		opts *rpc.GetTransactionOpts,
	) (*rpc.GetTransactionResult, error)

	GetTokenAccountsByOwner(
		ctx context.Context,
		owner solana.PublicKey,
		conf *rpc.GetTokenAccountsConfig,
		opts *rpc.GetTokenAccountsOpts,
	) (*rpc.GetTokenAccountsResult, error)

	GetSignatureStatuses(
		ctx context.Context,
		searchTransactionHistory bool,
		signatures ...solana.Signature,
	) (*rpc.GetSignatureStatusesResult, error)
}

// VerifierConfig holds the deposit parameters a transfer is checked against.
type VerifierConfig struct {
	DepositWallet string
	USDCMint      string

	// Timeout bounds each individual RPC read. Zero means 15s.
	Timeout time.Duration

	// RateLimit is the maximum RPC requests per second. Zero or less disables limiting.
	RateLimit float64
}

// Verifier confirms that a Solana transaction is a USDC transfer into the
// deposit wallet. It only reads from the chain.
type Verifier struct {
	rpc           RPCClient
	depositWallet solana.PublicKey
	usdcMint      solana.PublicKey
	timeout       time.Duration
	limiter       *rate.Limiter
	metrics       *metrics.Metrics
	logger        *slog.Logger
	now           func() time.Time
}

// NewVerifier creates a Verifier. Invalid addresses are configuration errors.
// If metrics is nil, no metrics will be recorded.
func NewVerifier(rpcClient RPCClient, cfg VerifierConfig, m *metrics.Metrics, logger *slog.Logger) (*Verifier, error) {
	deposit, err := solana.PublicKeyFromBase58(cfg.DepositWallet)
	if err != nil {
		return nil, fmt.Errorf("invalid deposit wallet address %q: %w", cfg.DepositWallet, err)
	}
	mint, err := solana.PublicKeyFromBase58(cfg.USDCMint)
	if err != nil {
		return nil, fmt.Errorf("invalid USDC mint address %q: %w", cfg.USDCMint, err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), max(1, int(cfg.RateLimit)))
	}

	return &Verifier{
		rpc:           rpcClient,
		depositWallet: deposit,
		usdcMint:      mint,
		timeout:       timeout,
		limiter:       limiter,
		metrics:       m,
		logger:        logger,
		now:           time.Now,
	}, nil
}

// DepositWallet returns the configured deposit wallet address.
func (v *Verifier) DepositWallet() string {
	return v.depositWallet.String()
}

// VerifyTransaction fetches the transaction at confirmed commitment and checks
// that it moved USDC into the deposit wallet. Every failure is reported in the
// result; it never returns an error.
func (v *Verifier) VerifyTransaction(ctx context.Context, signature string) VerificationResult {
	result := v.verify(ctx, signature)

	if v.metrics != nil {
		label := "valid"
		if !result.IsValid {
			label = string(result.Reason)
		}
		v.metrics.RecordVerification(label)
	}

	if result.IsValid {
		v.logger.InfoContext(ctx, "verified solana deposit",
			"signature", signature,
			"amount", result.Details.Amount.String(),
			"destination", result.Details.To,
		)
	} else {
		v.logger.WarnContext(ctx, "solana deposit verification failed",
			"signature", signature,
			"reason", result.Reason,
			"error", result.Error,
		)
	}

	return result
}

func (v *Verifier) verify(ctx context.Context, signature string) VerificationResult {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return failed(FailureInvalidSignature, fmt.Sprintf("invalid transaction signature: %v", err))
	}

	// Step 1: Fetch the transaction
	var txResult *rpc.GetTransactionResult
	err = v.call(ctx, "GetTransaction", func(ctx context.Context) error {
		maxVersion := uint64(0)
		var err error
		txResult, err = v.rpc.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
			Encoding:                       solana.EncodingBase64,
			Commitment:                     rpc.CommitmentConfirmed,
			MaxSupportedTransactionVersion: &maxVersion,
		})
		return err
	})
	if errors.Is(err, rpc.ErrNotFound) || (err == nil && (txResult == nil || txResult.Transaction == nil)) {
		return failed(FailureNotFound, fmt.Sprintf("transaction %s not found", signature))
	}
	if err != nil {
		return failed(FailureRPCError, fmt.Sprintf("failed to fetch transaction: %v", err))
	}

	// Step 2: The transaction landed but failed
	if txResult.Meta != nil && txResult.Meta.Err != nil {
		return failed(FailureOnChainError, fmt.Sprintf("transaction failed on chain: %v", txResult.Meta.Err))
	}

	tx, err := txResult.Transaction.GetTransaction()
	if err != nil {
		return failed(FailureRPCError, fmt.Sprintf("failed to decode transaction: %v", err))
	}

	// Step 3: First SPL token transfer, top-level before inner
	keys := resolveAccountKeys(tx, txResult.Meta)
	transfer, ok := findTokenTransfer(keys, collectInstructions(tx, txResult.Meta))
	if !ok {
		return failed(FailureNoTransferFound, "no SPL token transfer found in transaction")
	}

	details := &VerificationDetails{
		Signature: signature,
		Slot:      txResult.Slot,
		BlockTime: v.now().UTC(),
		From:      transfer.authority.String(),
		To:        transfer.destination.String(),
		Amount:    toUSDC(transfer.amount),
		RawAmount: transfer.amount,
	}
	if txResult.BlockTime != nil {
		details.BlockTime = txResult.BlockTime.Time().UTC()
	}
	if transfer.mint != nil {
		details.TokenMint = transfer.mint.String()
	}

	// Step 4: Destination must be the deposit wallet or a token account it owns
	acct, err := v.depositDestination(ctx, transfer.destination)
	if err != nil {
		return failed(FailureRPCError, fmt.Sprintf("failed to list deposit token accounts: %v", err))
	}
	if !acct.found {
		res := failed(FailureWrongDestination, fmt.Sprintf("transfer destination %s is not a deposit wallet token account", transfer.destination))
		res.Details = details
		return res
	}

	// Step 5: Mint check. TransferChecked carries the mint; a plain Transfer
	// takes the destination account's mint.
	mint := transfer.mint
	if mint == nil {
		mint = acct.mint
	}
	if mint == nil {
		res := failed(FailureWrongToken, fmt.Sprintf("could not determine the mint of transfer into %s", transfer.destination))
		res.Details = details
		return res
	}
	if !mint.Equals(v.usdcMint) {
		details.TokenMint = mint.String()
		res := failed(FailureWrongToken, fmt.Sprintf("transfer mint %s is not USDC (%s)", mint, v.usdcMint))
		res.Details = details
		return res
	}
	details.TokenMint = v.usdcMint.String()

	details.ConfirmationStatus = v.confirmationStatus(ctx, sig)

	return VerificationResult{
		IsValid: true,
		Details: details,
	}
}

// destinationAccount is a transfer destination matched against the deposit
// wallet. mint is nil when unknown.
type destinationAccount struct {
	found bool
	mint  *solana.PublicKey
}

// depositDestination looks dest up among every token account owned by the
// deposit wallet, under both the Token and Token-2022 programs. The deposit
// wallet itself also matches, with an unknown mint.
func (v *Verifier) depositDestination(ctx context.Context, dest solana.PublicKey) (destinationAccount, error) {
	if dest.Equals(v.depositWallet) {
		return destinationAccount{found: true}, nil
	}

	for _, program := range []solana.PublicKey{TokenProgramID, Token2022ProgramID} {
		var accounts *rpc.GetTokenAccountsResult
		err := v.call(ctx, "GetTokenAccountsByOwner", func(ctx context.Context) error {
			programID := program
			var err error
			accounts, err = v.rpc.GetTokenAccountsByOwner(ctx, v.depositWallet,
				&rpc.GetTokenAccountsConfig{ProgramId: &programID},
				&rpc.GetTokenAccountsOpts{
					Commitment: rpc.CommitmentConfirmed,
					Encoding:   solana.EncodingBase64,
				},
			)
			return err
		})
		if err != nil {
			return destinationAccount{}, err
		}
		if accounts == nil {
			continue
		}

		for _, acct := range accounts.Value {
			if acct != nil && acct.Pubkey.Equals(dest) {
				return destinationAccount{found: true, mint: tokenAccountMint(acct.Account.Data)}, nil
			}
		}
	}
	return destinationAccount{}, nil
}

// tokenAccountMint reads the mint from SPL token account data. Token and
// Token-2022 accounts both start with the 32-byte mint.
func tokenAccountMint(data *rpc.DataBytesOrJSON) *solana.PublicKey {
	if data == nil {
		return nil
	}
	raw := data.GetBinary()
	if len(raw) < solana.PublicKeyLength {
		return nil
	}
	mint := solana.PublicKeyFromBytes(raw[:solana.PublicKeyLength])
	return &mint
}

// confirmationStatus returns the node's confirmation level for the signature.
// The transaction was fetched at confirmed commitment, so that is the floor.
func (v *Verifier) confirmationStatus(ctx context.Context, sig solana.Signature) string {
	const fallback = "confirmed"

	var statuses *rpc.GetSignatureStatusesResult
	err := v.call(ctx, "GetSignatureStatuses", func(ctx context.Context) error {
		var err error
		statuses, err = v.rpc.GetSignatureStatuses(ctx, true, sig)
		return err
	})
	if err != nil {
		v.logger.DebugContext(ctx, "failed to get signature status",
			"signature", sig.String(),
			"error", err,
		)
		return fallback
	}
	if statuses == nil || len(statuses.Value) == 0 || statuses.Value[0] == nil {
		return fallback
	}
	if s := string(statuses.Value[0].ConfirmationStatus); s != "" {
		return s
	}
	return fallback
}

// call runs fn under the rate limiter with a per-call timeout and records metrics.
func (v *Verifier) call(ctx context.Context, method string, fn func(ctx context.Context) error) error {
	if err := v.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	start := time.Now()
	err := fn(callCtx)

	if v.metrics != nil {
		status := "success"
		switch {
		case errors.Is(err, rpc.ErrNotFound):
			status = "not_found"
		case err != nil:
			status = "error"
		}
		v.metrics.RecordSolanaRPCCall(method, status, time.Since(start).Seconds())
	}

	return err
}

// toUSDC converts base units to whole USDC.
func toUSDC(raw uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(raw), -USDCDecimals)
}
