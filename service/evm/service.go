package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/brojonat/solbridge/service/metrics"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
)

// gasMarginPercent is added on top of the node's gas estimate.
const gasMarginPercent = 20

// ChainClient is the subset of the Ethereum JSON-RPC API the payout path uses.
// *ethclient.Client satisfies it.
type ChainClient interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Dialer opens a ChainClient for a network's RPC endpoint.
type Dialer func(ctx context.Context, network Network, rpcURL string) (ChainClient, error)

// DialEthClient is the production Dialer.
func DialEthClient(ctx context.Context, network Network, rpcURL string) (ChainClient, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s RPC: %w", network, err)
	}
	return client, nil
}

// NetworkSettings is the injected per-network signing configuration.
type NetworkSettings struct {
	RPCURL              string
	ChainID             int64
	USDCAddress         string
	HotWalletPrivateKey string
}

// Config configures the Service.
type Config struct {
	Networks map[Network]NetworkSettings

	// RPCTimeout bounds each read and submission call. Zero means 15s.
	RPCTimeout time.Duration

	// ConfirmationTimeout bounds the wait for one confirmation. Zero means 60s.
	ConfirmationTimeout time.Duration

	// ReceiptPollInterval is how often the receipt is polled. Zero means 2s.
	ReceiptPollInterval time.Duration
}

// ChainConfig is the resolved configuration for one network.
type ChainConfig struct {
	Network     Network
	ChainID     *big.Int
	RPCURL      string
	USDCAddress common.Address
	HotWallet   common.Address
}

type chain struct {
	cfg     ChainConfig
	key     *ecdsa.PrivateKey
	signer  types.Signer
	client  ChainClient
	breaker *gobreaker.CircuitBreaker

	// sendMu serializes sends so nonces are never reused.
	sendMu sync.Mutex
}

// Service pays out USDC from per-network hot wallets.
type Service struct {
	chains         map[Network]*chain
	rpcTimeout     time.Duration
	confirmTimeout time.Duration
	pollInterval   time.Duration
	metrics        *metrics.Metrics
	logger         *slog.Logger
}

// NewService resolves every network's configuration and dials its RPC.
// A missing key or contract address is a configuration error.
func NewService(ctx context.Context, cfg Config, dial Dialer, m *metrics.Metrics, logger *slog.Logger) (*Service, error) {
	s := &Service{
		chains:         make(map[Network]*chain, len(cfg.Networks)),
		rpcTimeout:     cfg.RPCTimeout,
		confirmTimeout: cfg.ConfirmationTimeout,
		pollInterval:   cfg.ReceiptPollInterval,
		metrics:        m,
		logger:         logger,
	}
	if s.rpcTimeout <= 0 {
		s.rpcTimeout = 15 * time.Second
	}
	if s.confirmTimeout <= 0 {
		s.confirmTimeout = 60 * time.Second
	}
	if s.pollInterval <= 0 {
		s.pollInterval = 2 * time.Second
	}

	var errs []error
	for network, settings := range cfg.Networks {
		chainCfg, key, err := resolveChainConfig(network, settings)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		client, err := dial(ctx, network, settings.RPCURL)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		s.chains[network] = &chain{
			cfg:     chainCfg,
			key:     key,
			signer:  types.LatestSignerForChainID(chainCfg.ChainID),
			client:  client,
			breaker: newBreaker(network, logger),
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("evm configuration invalid: %v", errs)
	}

	for network, c := range s.chains {
		logger.InfoContext(ctx, "configured payout network",
			"network", network,
			"chain_id", c.cfg.ChainID.String(),
			"usdc_address", c.cfg.USDCAddress.Hex(),
			"hot_wallet", c.cfg.HotWallet.Hex(),
		)
	}

	return s, nil
}

func resolveChainConfig(network Network, settings NetworkSettings) (ChainConfig, *ecdsa.PrivateKey, error) {
	if _, ok := network.Info(); !ok {
		return ChainConfig{}, nil, fmt.Errorf("unsupported network %q", network)
	}
	if settings.HotWalletPrivateKey == "" {
		return ChainConfig{}, nil, fmt.Errorf("%s: hot wallet private key is not configured", network)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(settings.HotWalletPrivateKey, "0x"))
	if err != nil {
		return ChainConfig{}, nil, fmt.Errorf("%s: invalid hot wallet private key: %w", network, err)
	}
	if !common.IsHexAddress(settings.USDCAddress) {
		return ChainConfig{}, nil, fmt.Errorf("%s: invalid USDC contract address %q", network, settings.USDCAddress)
	}
	if settings.ChainID <= 0 {
		return ChainConfig{}, nil, fmt.Errorf("%s: chain id must be positive", network)
	}

	return ChainConfig{
		Network:     network,
		ChainID:     big.NewInt(settings.ChainID),
		RPCURL:      settings.RPCURL,
		USDCAddress: common.HexToAddress(settings.USDCAddress),
		HotWallet:   crypto.PubkeyToAddress(key.PublicKey),
	}, key, nil
}

func newBreaker(network Network, logger *slog.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "evm-" + string(network),
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("evm rpc circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
}

// Networks returns the configured networks.
func (s *Service) Networks() []Network {
	var out []Network
	for _, n := range SupportedNetworks() {
		if _, ok := s.chains[n]; ok {
			out = append(out, n)
		}
	}
	return out
}

// ChainConfig returns the resolved configuration for network.
func (s *Service) ChainConfig(network Network) (ChainConfig, error) {
	c, ok := s.chains[network]
	if !ok {
		return ChainConfig{}, fmt.Errorf("network %q is not configured", network)
	}
	return c.cfg, nil
}

// HotWalletAddress returns the address derived from the network's signing key.
func (s *Service) HotWalletAddress(network Network) (string, error) {
	c, ok := s.chains[network]
	if !ok {
		return "", fmt.Errorf("network %q is not configured", network)
	}
	return c.cfg.HotWallet.Hex(), nil
}

// CheckBalance reads the hot wallet's USDC balance.
func (s *Service) CheckBalance(ctx context.Context, network Network) (Balance, error) {
	c, ok := s.chains[network]
	if !ok {
		return Balance{}, fmt.Errorf("network %q is not configured", network)
	}

	raw, err := s.balanceOf(ctx, c)
	if err != nil {
		return Balance{}, err
	}

	formatted := FromBaseUnits(raw)
	if s.metrics != nil {
		s.metrics.RecordHotWalletBalance(string(network), formatted.InexactFloat64())
	}
	return Balance{Raw: raw, Formatted: formatted}, nil
}

// SendUSDC transfers amount USDC from the hot wallet to target and waits for
// one confirmation. Failures are reported in the result, never returned.
func (s *Service) SendUSDC(ctx context.Context, target string, network Network, amount decimal.Decimal) TransferResult {
	start := time.Now()
	result := s.sendUSDC(ctx, target, network, amount)

	if s.metrics != nil {
		label := "success"
		if !result.Success {
			label = string(result.Reason)
		}
		s.metrics.RecordPayout(string(network), label, time.Since(start).Seconds())
	}

	if result.Success {
		s.logger.InfoContext(ctx, "usdc payout confirmed",
			"network", network,
			"target", target,
			"amount", amount.String(),
			"tx_hash", result.TxHash,
			"block_number", result.BlockNumber,
			"gas_used", result.GasUsed,
		)
	} else {
		s.logger.ErrorContext(ctx, "usdc payout failed",
			"network", network,
			"target", target,
			"amount", amount.String(),
			"reason", result.Reason,
			"tx_hash", result.TxHash,
			"error", result.Error,
		)
	}

	return result
}

func (s *Service) sendUSDC(ctx context.Context, target string, network Network, amount decimal.Decimal) TransferResult {
	// Step 1: Resolve chain config and signer
	c, ok := s.chains[network]
	if !ok {
		return failure(FailureUnsupportedNetwork, fmt.Sprintf("network %q is not configured", network))
	}
	if !common.IsHexAddress(target) {
		return failure(FailureInvalidTarget, fmt.Sprintf("invalid target wallet %q", target))
	}
	to := common.HexToAddress(target)
	if to == (common.Address{}) {
		return failure(FailureInvalidTarget, "target wallet is the zero address")
	}

	// Step 2: Convert to base units
	value := ToBaseUnits(amount)
	if value.Sign() <= 0 {
		return failure(FailureInvalidAmount, fmt.Sprintf("amount %s is not positive in base units", amount))
	}

	data, err := packTransfer(to, value)
	if err != nil {
		return failure(FailureSubmission, fmt.Sprintf("failed to encode transfer: %v", err))
	}

	// Balance check through submission holds the per-chain lock so concurrent
	// payouts never share a nonce. The lock is released before confirmation and
	// the balance is read at the latest block, so back-to-back payouts can both
	// pass preflight; the later one then reverts for lack of balance.
	c.sendMu.Lock()
	signed, res := s.submitTransfer(ctx, c, value, amount, data)
	c.sendMu.Unlock()
	if signed == nil {
		return res
	}

	// Step 6: Wait for one confirmation. Once submitted there is no abort
	// path, so the caller's cancellation is ignored here.
	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.confirmTimeout)
	defer cancel()

	receipt, err := s.waitForReceipt(waitCtx, c, signed.Hash())
	txHash := signed.Hash().Hex()
	if err != nil {
		r := failure(FailureConfirmationTimeout, fmt.Sprintf("transaction %s not confirmed within %s: %v", txHash, s.confirmTimeout, err))
		r.TxHash = txHash
		r.ExplorerURL = network.ExplorerURL(txHash)
		return r
	}

	// Step 7: Report
	r := TransferResult{
		TxHash:      txHash,
		GasUsed:     receipt.GasUsed,
		ExplorerURL: network.ExplorerURL(txHash),
	}
	if receipt.BlockNumber != nil {
		r.BlockNumber = receipt.BlockNumber.Uint64()
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		r.Reason = FailureTransactionReverted
		r.Error = fmt.Sprintf("transaction %s reverted", txHash)
		return r
	}
	r.Success = true
	return r
}

// submitTransfer runs the preflight balance check, gas estimation, signing and
// submission. The caller must hold c.sendMu. A nil transaction means the
// returned result describes the failure.
func (s *Service) submitTransfer(ctx context.Context, c *chain, value *big.Int, amount decimal.Decimal, data []byte) (*types.Transaction, TransferResult) {
	network := c.cfg.Network

	// Step 3: Pre-flight balance check
	balance, err := s.balanceOf(ctx, c)
	if err != nil {
		return nil, failure(FailureBalanceCheck, fmt.Sprintf("failed to read hot wallet balance: %v", err))
	}
	if balance.Cmp(value) < 0 {
		return nil, failure(FailureInsufficientBalance, fmt.Sprintf(
			"insufficient hot wallet balance on %s: have %s USDC, need %s USDC",
			network, FromBaseUnits(balance).String(), amount.String()))
	}

	// Step 4: Estimate gas with margin
	usdc := c.cfg.USDCAddress
	var gas uint64
	err = s.call(ctx, c, "EstimateGas", func(ctx context.Context) error {
		var err error
		gas, err = c.client.EstimateGas(ctx, ethereum.CallMsg{
			From: c.cfg.HotWallet,
			To:   &usdc,
			Data: data,
		})
		return err
	})
	if err != nil {
		return nil, failure(FailureGasEstimation, fmt.Sprintf("failed to estimate gas: %v", err))
	}
	gasLimit := gas + gas*gasMarginPercent/100

	// Step 5: Build, sign and submit
	var nonce uint64
	err = s.call(ctx, c, "PendingNonceAt", func(ctx context.Context) error {
		var err error
		nonce, err = c.client.PendingNonceAt(ctx, c.cfg.HotWallet)
		return err
	})
	if err != nil {
		return nil, failure(FailureSubmission, fmt.Sprintf("failed to get nonce: %v", err))
	}

	var gasPrice *big.Int
	err = s.call(ctx, c, "SuggestGasPrice", func(ctx context.Context) error {
		var err error
		gasPrice, err = c.client.SuggestGasPrice(ctx)
		return err
	})
	if err != nil {
		return nil, failure(FailureSubmission, fmt.Sprintf("failed to get gas price: %v", err))
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &usdc,
		Value:    big.NewInt(0),
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, c.signer, c.key)
	if err != nil {
		return nil, failure(FailureSubmission, fmt.Sprintf("failed to sign transaction: %v", err))
	}

	err = s.call(ctx, c, "SendTransaction", func(ctx context.Context) error {
		return c.client.SendTransaction(ctx, signed)
	})
	if err != nil {
		// The node may still have accepted it; the operator needs the hash to
		// check before paying by hand.
		hash := signed.Hash().Hex()
		r := failure(FailureSubmission, fmt.Sprintf("failed to send transaction %s: %v", hash, err))
		r.TxHash = hash
		r.ExplorerURL = network.ExplorerURL(hash)
		return nil, r
	}

	s.logger.InfoContext(ctx, "submitted usdc transfer",
		"network", network,
		"tx_hash", signed.Hash().Hex(),
		"nonce", nonce,
		"gas_limit", gasLimit,
		"gas_price", gasPrice.String(),
	)

	return signed, TransferResult{}
}

// waitForReceipt polls until the transaction is mined or ctx expires.
func (s *Service) waitForReceipt(ctx context.Context, c *chain, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.client.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			s.logger.DebugContext(ctx, "receipt lookup failed, retrying",
				"network", c.cfg.Network,
				"tx_hash", hash.Hex(),
				"error", err,
			)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Service) balanceOf(ctx context.Context, c *chain) (*big.Int, error) {
	data, err := packBalanceOf(c.cfg.HotWallet)
	if err != nil {
		return nil, fmt.Errorf("failed to encode balanceOf: %w", err)
	}

	usdc := c.cfg.USDCAddress
	var out []byte
	err = s.call(ctx, c, "CallContract", func(ctx context.Context) error {
		var err error
		out, err = c.client.CallContract(ctx, ethereum.CallMsg{To: &usdc, Data: data}, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return unpackBalance(out)
}

// call runs fn through the network's circuit breaker with a per-call timeout.
func (s *Service) call(ctx context.Context, c *chain, method string, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, s.rpcTimeout)
	defer cancel()

	start := time.Now()
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, fn(callCtx)
	})
	if s.metrics != nil {
		s.metrics.RecordEVMRPCCall(string(c.cfg.Network), method, err, time.Since(start).Seconds())
	}
	return err
}

func failure(reason FailureReason, msg string) TransferResult {
	return TransferResult{
		Success: false,
		Reason:  reason,
		Error:   msg,
	}
}
