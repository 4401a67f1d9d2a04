package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// BridgeRequest asks the bridge to pay out a Solana USDC deposit on an EVM network.
type BridgeRequest struct {
	SolanaWallet  string          `json:"solana_wallet,omitempty"`
	TargetWallet  string          `json:"target_wallet"`
	NetworkTarget string          `json:"network_target"` // "ETH" or "AVAX"
	AmountUSDC    decimal.Decimal `json:"amount_usdc"`
	SourceTxID    string          `json:"source_tx_id"`
	Timestamp     *time.Time      `json:"timestamp,omitempty"`
}

// Verification is the Solana side of a bridge result.
type Verification struct {
	IsValid bool   `json:"is_valid"`
	Reason  string `json:"reason,omitempty"`
	Error   string `json:"error,omitempty"`
	Details *struct {
		Signature          string          `json:"signature"`
		Slot               uint64          `json:"slot"`
		BlockTime          time.Time       `json:"block_time"`
		From               string          `json:"from"`
		To                 string          `json:"to"`
		Amount             decimal.Decimal `json:"amount"`
		TokenMint          string          `json:"token_mint,omitempty"`
		ConfirmationStatus string          `json:"confirmation_status"`
	} `json:"details,omitempty"`
}

// Transfer is the EVM side of a bridge result.
type Transfer struct {
	Success     bool   `json:"success"`
	TxHash      string `json:"tx_hash,omitempty"`
	GasUsed     uint64 `json:"gas_used,omitempty"`
	BlockNumber uint64 `json:"block_number,omitempty"`
	ExplorerURL string `json:"explorer_url,omitempty"`
	Reason      string `json:"reason,omitempty"`
	Error       string `json:"error,omitempty"`
}

// BridgeResult is the outcome of a bridge request.
type BridgeResult struct {
	Success              bool         `json:"success"`
	SourceTxID           string       `json:"source_tx_id"`
	Network              string       `json:"network,omitempty"`
	SolanaVerification   Verification `json:"solana_verification"`
	EVMTransfer          *Transfer    `json:"evm_transfer,omitempty"`
	ErrorCode            string       `json:"error_code,omitempty"`
	Error                string       `json:"error,omitempty"`
	RequiresManualAction bool         `json:"requires_manual_action"`
	Timestamp            time.Time    `json:"timestamp"`
}

// Stats are the bridge counters.
type Stats struct {
	ProcessedCount int `json:"processed_count"`
}

// Claim is a claimed source transaction.
type Claim struct {
	SourceTxID string    `json:"source_tx_id"`
	ClaimedAt  time.Time `json:"claimed_at"`
}

// Client is the HTTP client for the bridge service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new bridge service client. The default HTTP timeout
// allows for the payout confirmation wait.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 3 * time.Minute}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// SubmitBridgeRequest submits a bridge request and waits for the outcome.
// Rejections and payout failures are returned as a BridgeResult with Success
// false; the error is reserved for transport and malformed-request failures.
func (c *Client) SubmitBridgeRequest(ctx context.Context, br BridgeRequest) (*BridgeResult, error) {
	body, err := json.Marshal(br)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/v1/bridge", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var result BridgeResult
	if err := json.Unmarshal(respBody, &result); err != nil || (!result.Success && result.ErrorCode == "") {
		return nil, errorFromBody(resp.StatusCode, respBody)
	}

	c.logger.Debug("bridge request processed",
		"source_tx_id", br.SourceTxID,
		"status", resp.StatusCode,
		"success", result.Success,
		"error_code", result.ErrorCode,
	)
	return &result, nil
}

// Stats retrieves the bridge counters.
func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	var stats Stats
	if err := c.getJSON(ctx, "/api/v1/stats", &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// Balances retrieves the hot wallet balance per network, keyed by lower-case
// network name. A network whose balance could not be read maps to "error".
func (c *Client) Balances(ctx context.Context) (map[string]string, error) {
	balances := make(map[string]string)
	if err := c.getJSON(ctx, "/api/v1/balances", &balances); err != nil {
		return nil, err
	}
	return balances, nil
}

// Claims lists claimed source transactions, newest first. A limit of 0 uses
// the server default.
func (c *Client) Claims(ctx context.Context, limit int) ([]Claim, error) {
	path := "/api/v1/claims"
	if limit > 0 {
		path += "?" + url.Values{"limit": {strconv.Itoa(limit)}}.Encode()
	}

	var resp struct {
		Claims []Claim `json:"claims"`
		Count  int     `json:"count"`
	}
	if err := c.getJSON(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Claims, nil
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	return errorFromBody(resp.StatusCode, body)
}

func errorFromBody(status int, body []byte) error {
	var errResp struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return fmt.Errorf("request failed with status %d: %s", status, string(body))
	}
	return fmt.Errorf("request failed: %s", errResp.Error)
}
