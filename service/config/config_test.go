package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testETHKey  = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	testAVAXKey = "8da4ef21b864d2cc526dbdb2a120bd2874c36c9d0a1fb7f8c63d7f7a8b41de8f"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DEPOSIT_WALLET_ADDRESS", "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM")
	t.Setenv("ETH_HOT_WALLET_PRIVATE_KEY", testETHKey)
	t.Setenv("AVAX_HOT_WALLET_PRIVATE_KEY", testAVAXKey)
}

func TestLoad_ValidConfig(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, ":8080", cfg.ServerAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "https://api.mainnet-beta.solana.com", cfg.SolanaRPCURL)
	assert.Equal(t, "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", cfg.USDCMintAddress)
	assert.True(t, cfg.MinAmountUSDC.Equal(decimal.RequireFromString("0.01")))
	assert.True(t, cfg.MaxAmountUSDC.Equal(decimal.NewFromInt(10000)))
	assert.Equal(t, 15*time.Second, cfg.RPCTimeout)
	assert.Equal(t, 60*time.Second, cfg.ConfirmationTimeout)
	assert.Equal(t, ClaimStoreMemory, cfg.ClaimStore)
	assert.Equal(t, "solbridge", cfg.TemporalTaskQueue)
	assert.Equal(t, 15*time.Minute, cfg.BalanceCheckInterval)
	assert.False(t, cfg.UseTemporal)

	require.Contains(t, cfg.Networks, "ETH")
	require.Contains(t, cfg.Networks, "AVAX")
	assert.Equal(t, int64(1), cfg.Networks["ETH"].ChainID)
	assert.Equal(t, int64(43114), cfg.Networks["AVAX"].ChainID)
	assert.Equal(t, testAVAXKey, cfg.Networks["AVAX"].HotWalletPrivateKey)

	require.NoError(t, cfg.Validate())
}

func TestLoad_MissingDepositWallet(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DEPOSIT_WALLET_ADDRESS", "")

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "DEPOSIT_WALLET_ADDRESS is required")
}

func TestLoad_MissingHotWalletKey(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("AVAX_HOT_WALLET_PRIVATE_KEY", "")

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "AVAX_HOT_WALLET_PRIVATE_KEY is required")
}

func TestLoad_InvalidAmounts(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("MIN_AMOUNT_USDC", "abc")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid decimal")
}

func TestLoad_MinGreaterThanMax(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("MIN_AMOUNT_USDC", "100")
	t.Setenv("MAX_AMOUNT_USDC", "10")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be greater than")
}

func TestLoad_InvalidTimeout(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("RPC_TIMEOUT", "soon")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestLoad_ClaimStore(t *testing.T) {
	t.Run("postgres requires DATABASE_URL", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("CLAIM_STORE", "postgres")
		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "DATABASE_URL is required")
	})

	t.Run("redis requires REDIS_URL", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("CLAIM_STORE", "redis")
		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "REDIS_URL is required")
	})

	t.Run("unknown backend", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("CLAIM_STORE", "etcd")
		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown backend")
	})

	t.Run("sqlite is case insensitive", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("CLAIM_STORE", "SQLite")
		t.Setenv("SQLITE_PATH", "/tmp/claims.db")
		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, ClaimStoreSQLite, cfg.ClaimStore)
		assert.Equal(t, "/tmp/claims.db", cfg.SQLitePath)
	})
}

func TestLoad_CustomNetworkValues(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("AVAX_CHAIN_ID", "43113")
	t.Setenv("AVAX_RPC_URL", "https://api.avax-test.network/ext/bc/C/rpc")
	t.Setenv("AVAX_USDC_ADDRESS", "0x5425890298aed601595a70AB815c96711a31Bc65")

	cfg, err := Load()
	require.NoError(t, err)

	avax := cfg.Networks["AVAX"]
	assert.Equal(t, int64(43113), avax.ChainID)
	assert.Equal(t, "https://api.avax-test.network/ext/bc/C/rpc", avax.RPCURL)
	assert.Equal(t, "0x5425890298aed601595a70AB815c96711a31Bc65", avax.USDCAddress)
}

func TestLoad_InvalidChainID(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("ETH_CHAIN_ID", "mainnet")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid integer")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			SolanaRPCURL:         "https://api.devnet.solana.com",
			USDCMintAddress:      "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU",
			DepositWalletAddress: "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM",
			MinAmountUSDC:        decimal.RequireFromString("0.01"),
			MaxAmountUSDC:        decimal.NewFromInt(10000),
			Networks: map[string]NetworkConfig{
				"ETH":  {ChainID: 1, USDCAddress: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", HotWalletPrivateKey: testETHKey},
				"AVAX": {ChainID: 43114, USDCAddress: "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E", HotWalletPrivateKey: testAVAXKey},
			},
			RPCTimeout:          15 * time.Second,
			ConfirmationTimeout: 60 * time.Second,
		}
	}

	require.NoError(t, valid().Validate())

	cfg := valid()
	delete(cfg.Networks, "ETH")
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "network ETH is not configured")

	cfg = valid()
	cfg.MinAmountUSDC = decimal.Zero
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be positive")
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("SOLBRIDGE_DOTENV_TEST=from-file\n"), 0o600))
	t.Setenv("SOLBRIDGE_DOTENV_TEST", "")
	os.Unsetenv("SOLBRIDGE_DOTENV_TEST")

	require.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env"), path))
	assert.Equal(t, "from-file", os.Getenv("SOLBRIDGE_DOTENV_TEST"))

	// missing files are ignored
	require.NoError(t, LoadDotEnv(filepath.Join(dir, "nope.env")))
}

func TestLoad_TemporalNeedsSharedClaimStore(t *testing.T) {
	t.Run("memory rejected", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("BRIDGE_USE_TEMPORAL", "true")
		t.Setenv("CLAIM_STORE", "memory")
		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "BRIDGE_USE_TEMPORAL requires a shared CLAIM_STORE")
	})

	t.Run("sqlite accepted", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("BRIDGE_USE_TEMPORAL", "true")
		t.Setenv("CLAIM_STORE", "sqlite")
		cfg, err := Load()
		require.NoError(t, err)
		assert.True(t, cfg.UseTemporal)
	})
}
