package evm

import (
	"fmt"
	"slices"
	"strings"
)

// Network identifies an EVM payout chain.
type Network string

const (
	NetworkETH  Network = "ETH"
	NetworkAVAX Network = "AVAX"
)

// NetworkInfo is static metadata for a payout network.
type NetworkInfo struct {
	Network        Network
	Name           string
	NativeSymbol   string
	DefaultChainID int64
	ExplorerTxURL  string // fmt pattern taking the tx hash
}

// networks is the registry of supported payout networks. Adding a chain is an
// entry here plus its environment configuration.
var networks = map[Network]NetworkInfo{
	NetworkETH: {
		Network:        NetworkETH,
		Name:           "Ethereum",
		NativeSymbol:   "ETH",
		DefaultChainID: 1,
		ExplorerTxURL:  "https://etherscan.io/tx/%s",
	},
	NetworkAVAX: {
		Network:        NetworkAVAX,
		Name:           "Avalanche C-Chain",
		NativeSymbol:   "AVAX",
		DefaultChainID: 43114,
		ExplorerTxURL:  "https://snowtrace.io/tx/%s",
	},
}

// ParseNetwork resolves a network name case-insensitively.
func ParseNetwork(s string) (Network, error) {
	n := Network(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := networks[n]; !ok {
		return "", fmt.Errorf("unsupported network %q (supported: %s)", s, strings.Join(networkNames(), ", "))
	}
	return n, nil
}

// SupportedNetworks returns all registered networks in name order.
func SupportedNetworks() []Network {
	out := make([]Network, 0, len(networks))
	for n := range networks {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

// Info returns the registry entry for n.
func (n Network) Info() (NetworkInfo, bool) {
	info, ok := networks[n]
	return info, ok
}

// ExplorerURL returns a block explorer link for txHash, or "" if unknown.
func (n Network) ExplorerURL(txHash string) string {
	info, ok := networks[n]
	if !ok || info.ExplorerTxURL == "" || txHash == "" {
		return ""
	}
	return fmt.Sprintf(info.ExplorerTxURL, txHash)
}

func networkNames() []string {
	var names []string
	for _, n := range SupportedNetworks() {
		names = append(names, string(n))
	}
	return names
}
