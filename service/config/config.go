package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Claim store backends.
const (
	ClaimStoreMemory   = "memory"
	ClaimStorePostgres = "postgres"
	ClaimStoreSQLite   = "sqlite"
	ClaimStoreRedis    = "redis"
)

// NetworkConfig is the per-EVM-network payout configuration.
type NetworkConfig struct {
	RPCURL              string
	ChainID             int64
	USDCAddress         string
	HotWalletPrivateKey string
}

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr string
	LogLevel   string

	// Solana configuration
	SolanaRPCURL         string
	SolanaRPCRateLimit   float64
	USDCMintAddress      string
	DepositWalletAddress string

	// Bridge bounds
	MinAmountUSDC decimal.Decimal
	MaxAmountUSDC decimal.Decimal

	// EVM payout networks keyed by network name ("ETH", "AVAX")
	Networks map[string]NetworkConfig

	// Timeouts
	RPCTimeout          time.Duration
	ConfirmationTimeout time.Duration

	// Claim ledger
	ClaimStore  string
	DatabaseURL string
	SQLitePath  string
	RedisURL    string

	// NATS configuration
	NATSURL string

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string

	// UseTemporal makes the server run bridge requests as workflows on the
	// worker instead of in-process.
	UseTemporal bool

	// BalanceCheckInterval is how often the worker reads hot wallet balances.
	// Zero removes the schedule.
	BalanceCheckInterval time.Duration
}

// networkDefaults holds non-secret defaults for each supported payout network.
var networkDefaults = map[string]NetworkConfig{
	"ETH": {
		RPCURL:      "https://ethereum-rpc.publicnode.com",
		ChainID:     1,
		USDCAddress: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
	},
	"AVAX": {
		RPCURL:      "https://api.avax.network/ext/bc/C/rpc",
		ChainID:     43114,
		USDCAddress: "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E",
	},
}

// NetworkNames returns the configured payout network names in a stable order.
func NetworkNames() []string {
	return []string{"ETH", "AVAX"}
}

// LoadDotEnv seeds the process environment from the given files if they exist.
// Variables already present in the environment are not overridden.
func LoadDotEnv(paths ...string) error {
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("failed to load env files: %w", err)
	}
	return nil
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Solana configuration
	cfg.SolanaRPCURL = getEnvOrDefault("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com")
	cfg.USDCMintAddress = getEnvOrDefault("USDC_MINT_ADDRESS", "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
	cfg.DepositWalletAddress = os.Getenv("DEPOSIT_WALLET_ADDRESS")
	if cfg.DepositWalletAddress == "" {
		errs = append(errs, fmt.Errorf("DEPOSIT_WALLET_ADDRESS is required"))
	}

	rateLimit, err := parseFloat("SOLANA_RPC_RATE_LIMIT", 10)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.SolanaRPCRateLimit = rateLimit
	}

	// Bridge bounds
	minAmount, err := parseDecimal("MIN_AMOUNT_USDC", "0.01")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.MinAmountUSDC = minAmount
	}

	maxAmount, err := parseDecimal("MAX_AMOUNT_USDC", "10000")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.MaxAmountUSDC = maxAmount
	}

	if err == nil && cfg.MinAmountUSDC.GreaterThan(cfg.MaxAmountUSDC) {
		errs = append(errs, fmt.Errorf("MIN_AMOUNT_USDC (%s) cannot be greater than MAX_AMOUNT_USDC (%s)",
			cfg.MinAmountUSDC, cfg.MaxAmountUSDC))
	}

	// EVM networks
	cfg.Networks = make(map[string]NetworkConfig, len(networkDefaults))
	for _, name := range NetworkNames() {
		nc, netErrs := loadNetwork(name)
		errs = append(errs, netErrs...)
		cfg.Networks[name] = nc
	}

	// Timeouts
	rpcTimeout, err := parseDuration("RPC_TIMEOUT", "15s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.RPCTimeout = rpcTimeout
	}

	confirmTimeout, err := parseDuration("CONFIRMATION_TIMEOUT", "60s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ConfirmationTimeout = confirmTimeout
	}

	// Claim ledger
	cfg.ClaimStore = strings.ToLower(getEnvOrDefault("CLAIM_STORE", ClaimStoreMemory))
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.SQLitePath = getEnvOrDefault("SQLITE_PATH", "solbridge.db")
	cfg.RedisURL = os.Getenv("REDIS_URL")

	switch cfg.ClaimStore {
	case ClaimStoreMemory, ClaimStoreSQLite:
	case ClaimStorePostgres:
		if cfg.DatabaseURL == "" {
			errs = append(errs, fmt.Errorf("DATABASE_URL is required when CLAIM_STORE=postgres"))
		}
	case ClaimStoreRedis:
		if cfg.RedisURL == "" {
			errs = append(errs, fmt.Errorf("REDIS_URL is required when CLAIM_STORE=redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("CLAIM_STORE: unknown backend %q", cfg.ClaimStore))
	}

	// NATS configuration (empty disables event publishing)
	cfg.NATSURL = os.Getenv("NATS_URL")

	// Temporal configuration
	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "solbridge")

	useTemporal, err := strconv.ParseBool(getEnvOrDefault("BRIDGE_USE_TEMPORAL", "false"))
	if err != nil {
		errs = append(errs, fmt.Errorf("BRIDGE_USE_TEMPORAL: invalid boolean: %w", err))
	} else {
		cfg.UseTemporal = useTemporal
	}
	if cfg.UseTemporal && cfg.ClaimStore == ClaimStoreMemory {
		// the worker claims; the server must see the same ledger
		errs = append(errs, fmt.Errorf("BRIDGE_USE_TEMPORAL requires a shared CLAIM_STORE, not %q", ClaimStoreMemory))
	}

	balanceInterval, err := parseDuration("BALANCE_CHECK_INTERVAL", "15m")
	if err != nil {
		errs = append(errs, err)
	} else if balanceInterval < 0 {
		errs = append(errs, fmt.Errorf("BALANCE_CHECK_INTERVAL cannot be negative"))
	} else {
		cfg.BalanceCheckInterval = balanceInterval
	}

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.SolanaRPCURL == "" {
		errs = append(errs, fmt.Errorf("SolanaRPCURL is required"))
	}

	if c.USDCMintAddress == "" {
		errs = append(errs, fmt.Errorf("USDCMintAddress is required"))
	}

	if c.DepositWalletAddress == "" {
		errs = append(errs, fmt.Errorf("DepositWalletAddress is required"))
	}

	if c.MinAmountUSDC.GreaterThan(c.MaxAmountUSDC) {
		errs = append(errs, fmt.Errorf("MinAmountUSDC cannot be greater than MaxAmountUSDC"))
	}

	if !c.MinAmountUSDC.IsPositive() {
		errs = append(errs, fmt.Errorf("MinAmountUSDC must be positive"))
	}

	for _, name := range NetworkNames() {
		nc, ok := c.Networks[name]
		if !ok {
			errs = append(errs, fmt.Errorf("network %s is not configured", name))
			continue
		}
		if nc.HotWalletPrivateKey == "" {
			errs = append(errs, fmt.Errorf("%s hot wallet private key is required", name))
		}
		if nc.USDCAddress == "" {
			errs = append(errs, fmt.Errorf("%s USDC address is required", name))
		}
	}

	if c.ConfirmationTimeout <= 0 {
		errs = append(errs, fmt.Errorf("ConfirmationTimeout must be positive"))
	}

	if c.RPCTimeout <= 0 {
		errs = append(errs, fmt.Errorf("RPCTimeout must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

func loadNetwork(name string) (NetworkConfig, []error) {
	var errs []error
	def := networkDefaults[name]

	nc := NetworkConfig{
		RPCURL:              getEnvOrDefault(name+"_RPC_URL", def.RPCURL),
		USDCAddress:         getEnvOrDefault(name+"_USDC_ADDRESS", def.USDCAddress),
		HotWalletPrivateKey: os.Getenv(name + "_HOT_WALLET_PRIVATE_KEY"),
	}

	chainID, err := parseInt64(name+"_CHAIN_ID", def.ChainID)
	if err != nil {
		errs = append(errs, err)
	}
	nc.ChainID = chainID

	if nc.HotWalletPrivateKey == "" {
		errs = append(errs, fmt.Errorf("%s_HOT_WALLET_PRIVATE_KEY is required", name))
	}
	if nc.USDCAddress == "" {
		errs = append(errs, fmt.Errorf("%s_USDC_ADDRESS is required", name))
	}

	return nc, errs
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseDecimal parses a decimal amount from an environment variable or uses a default.
func parseDecimal(key, defaultValue string) (decimal.Decimal, error) {
	value := getEnvOrDefault(key, defaultValue)
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: invalid decimal %q: %w", key, value, err)
	}
	return d, nil
}

// parseInt64 parses an integer from an environment variable or uses a default.
func parseInt64(key string, defaultValue int64) (int64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

func parseFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid number %q: %w", key, value, err)
	}
	return result, nil
}
