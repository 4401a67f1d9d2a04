package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/brojonat/solbridge/service/config"
	"github.com/brojonat/solbridge/service/evm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestEVMConfig(t *testing.T) {
	cfg := &config.Config{
		RPCTimeout:          5 * time.Second,
		ConfirmationTimeout: 90 * time.Second,
		Networks: map[string]config.NetworkConfig{
			"ETH":  {RPCURL: "http://eth", ChainID: 1, USDCAddress: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", HotWalletPrivateKey: "k1"},
			"AVAX": {RPCURL: "http://avax", ChainID: 43114, USDCAddress: "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E", HotWalletPrivateKey: "k2"},
		},
	}

	out := EVMConfig(cfg)
	assert.Equal(t, 5*time.Second, out.RPCTimeout)
	assert.Equal(t, 90*time.Second, out.ConfirmationTimeout)
	require.Len(t, out.Networks, 2)
	assert.Equal(t, int64(43114), out.Networks[evm.NetworkAVAX].ChainID)
	assert.Equal(t, "http://eth", out.Networks[evm.NetworkETH].RPCURL)
	assert.Equal(t, "k2", out.Networks[evm.NetworkAVAX].HotWalletPrivateKey)
}

func TestOpenLedger(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		b := &Bridge{logger: testLogger()}
		ledger, err := b.openLedger(ctx, &config.Config{ClaimStore: config.ClaimStoreMemory}, nil)
		require.NoError(t, err)
		assert.Nil(t, ledger)
		assert.Empty(t, b.closers)
	})

	t.Run("sqlite", func(t *testing.T) {
		b := &Bridge{logger: testLogger()}
		cfg := &config.Config{
			ClaimStore: config.ClaimStoreSQLite,
			SQLitePath: filepath.Join(t.TempDir(), "claims.db"),
		}
		ledger, err := b.openLedger(ctx, cfg, nil)
		require.NoError(t, err)
		require.NotNil(t, ledger)
		defer b.Close()

		created, err := ledger.Claim(ctx, "abc")
		require.NoError(t, err)
		assert.True(t, created)
		assert.Len(t, b.closers, 1)
	})

	t.Run("redis unreachable", func(t *testing.T) {
		b := &Bridge{logger: testLogger()}
		cfg := &config.Config{ClaimStore: config.ClaimStoreRedis, RedisURL: "not a url"}
		_, err := b.openLedger(ctx, cfg, nil)
		assert.Error(t, err)
	})
}

func TestBridgeClose_ReverseOrder(t *testing.T) {
	var order []int
	b := &Bridge{logger: testLogger()}
	for i := 0; i < 3; i++ {
		i := i
		b.closers = append(b.closers, closerFunc(func() error { order = append(order, i); return nil }))
	}

	b.Close()
	assert.Equal(t, []int{2, 1, 0}, order)
	assert.Empty(t, b.closers)
}
