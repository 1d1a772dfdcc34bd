// Package domain holds the types shared by the trading core: networks,
// tokens, wallets, trade requests and the error taxonomy.
package domain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"
)

// Network identifies a supported chain.
type Network string

const (
	NetworkEthereum Network = "ethereum"
	NetworkBase     Network = "base"
	NetworkSolana   Network = "solana"
)

// SupportedNetworks returns every network the core can route trades to.
func SupportedNetworks() []Network {
	return []Network{NetworkEthereum, NetworkBase, NetworkSolana}
}

// ParseNetwork converts a user or config supplied name into a Network.
func ParseNetwork(s string) (Network, error) {
	n := Network(strings.ToLower(strings.TrimSpace(s)))
	if !n.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedNetwork, s)
	}
	return n, nil
}

// Valid reports whether n is one of the supported networks.
func (n Network) Valid() bool {
	switch n {
	case NetworkEthereum, NetworkBase, NetworkSolana:
		return true
	}
	return false
}

// IsEVM reports whether the network speaks the Ethereum JSON-RPC dialect.
func (n Network) IsEVM() bool {
	return n == NetworkEthereum || n == NetworkBase
}

// NativeSymbol returns the ticker of the network's gas token.
func (n Network) NativeSymbol() string {
	if n == NetworkSolana {
		return "SOL"
	}
	return "ETH"
}

func (n Network) String() string { return string(n) }

// ValidateAddress checks that addr is well formed for the network.
func ValidateAddress(n Network, addr string) error {
	switch {
	case n == NetworkSolana:
		if _, err := solana.PublicKeyFromBase58(addr); err != nil {
			return fmt.Errorf("invalid solana address %q: %w", addr, err)
		}
		return nil
	case n.IsEVM():
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("invalid %s address %q", n, addr)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedNetwork, n)
	}
}
