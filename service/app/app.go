// Package app assembles the bridge from configuration. The server and the
// worker build the same pipeline so both see one claim ledger.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/brojonat/solbridge/service/bridge"
	"github.com/brojonat/solbridge/service/config"
	"github.com/brojonat/solbridge/service/db"
	"github.com/brojonat/solbridge/service/evm"
	"github.com/brojonat/solbridge/service/metrics"
	natspkg "github.com/brojonat/solbridge/service/nats"
	"github.com/brojonat/solbridge/service/solana"
	"github.com/brojonat/solbridge/service/tracker"
)

// Bridge is a fully wired orchestrator together with the resources it owns.
type Bridge struct {
	Orchestrator *bridge.Orchestrator
	Verifier     *solana.Verifier
	Payer        *evm.Service
	Tracker      *tracker.Tracker

	closers []io.Closer
	logger  *slog.Logger
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// Build connects the claim ledger, the Solana verifier, the EVM payout
// service and (when NATS_URL is set) the event publisher.
func Build(ctx context.Context, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (*Bridge, error) {
	b := &Bridge{logger: logger}

	ledger, err := b.openLedger(ctx, cfg, m)
	if err != nil {
		b.Close()
		return nil, err
	}

	// Step 1: Claim tracker, warmed from the ledger
	b.Tracker = tracker.New(ledger, m, logger)
	n, err := b.Tracker.Warm(ctx)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("failed to load claims: %w", err)
	}
	logger.Info("claim tracker ready", "backend", cfg.ClaimStore, "claims", n)

	// Step 2: Solana verifier
	endpoint, err := solana.SelectRandomEndpoint(solana.SplitEndpoints(cfg.SolanaRPCURL))
	if err != nil {
		b.Close()
		return nil, err
	}
	b.Verifier, err = solana.NewVerifier(solana.NewRPCClient(endpoint), solana.VerifierConfig{
		DepositWallet: cfg.DepositWalletAddress,
		USDCMint:      cfg.USDCMintAddress,
		Timeout:       cfg.RPCTimeout,
		RateLimit:     cfg.SolanaRPCRateLimit,
	}, m, logger)
	if err != nil {
		b.Close()
		return nil, err
	}
	logger.Info("initialized solana verifier", "rpc_url", endpoint, "deposit_wallet", cfg.DepositWalletAddress)

	// Step 3: EVM payout service
	b.Payer, err = evm.NewService(ctx, EVMConfig(cfg), evm.DialEthClient, m, logger)
	if err != nil {
		b.Close()
		return nil, err
	}
	for _, network := range b.Payer.Networks() {
		addr, _ := b.Payer.HotWalletAddress(network)
		logger.Info("initialized payout network", "network", network, "hot_wallet", addr)
	}

	// Step 4: Event publisher (optional)
	var publisher natspkg.Publisher
	if cfg.NATSURL != "" {
		p, err := natspkg.NewPublisher(cfg.NATSURL, m, logger)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.closers = append(b.closers, p)
		publisher = p
	} else {
		logger.Warn("NATS_URL not set, bridge events will not be published")
	}

	// Step 5: Orchestrator
	b.Orchestrator, err = bridge.NewOrchestrator(b.Verifier, b.Payer, b.Tracker, publisher, bridge.Config{
		MinAmount: cfg.MinAmountUSDC,
		MaxAmount: cfg.MaxAmountUSDC,
	}, m, logger)
	if err != nil {
		b.Close()
		return nil, err
	}

	return b, nil
}

func (b *Bridge) openLedger(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (tracker.Ledger, error) {
	switch cfg.ClaimStore {
	case config.ClaimStorePostgres:
		pool, err := db.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, closerFunc(func() error { pool.Close(); return nil }))
		store := db.NewStore(pool, m)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return store, nil

	case config.ClaimStoreSQLite:
		store, err := db.OpenSQLite(cfg.SQLitePath, m)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, store)
		return store, nil

	case config.ClaimStoreRedis:
		client, err := db.OpenRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, client)
		return db.NewRedisStore(client, "", m), nil

	default:
		b.logger.Warn("claim ledger is in memory only, claims will not survive a restart")
		return nil, nil
	}
}

// EVMConfig maps the environment configuration onto the payout service config.
func EVMConfig(cfg *config.Config) evm.Config {
	out := evm.Config{
		Networks:            make(map[evm.Network]evm.NetworkSettings, len(cfg.Networks)),
		RPCTimeout:          cfg.RPCTimeout,
		ConfirmationTimeout: cfg.ConfirmationTimeout,
	}
	for name, nc := range cfg.Networks {
		out.Networks[evm.Network(name)] = evm.NetworkSettings{
			RPCURL:              nc.RPCURL,
			ChainID:             nc.ChainID,
			USDCAddress:         nc.USDCAddress,
			HotWalletPrivateKey: nc.HotWalletPrivateKey,
		}
	}
	return out
}

// Close releases every resource Build opened, in reverse order.
func (b *Bridge) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i].Close(); err != nil {
			b.logger.Warn("failed to close resource", "error", err)
		}
	}
	b.closers = nil
}
