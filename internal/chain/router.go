// Package chain holds the per-network RPC clients used for balances, gas
// prices and health checks.
package chain

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/katz-bot/internal/domain"
)

// Client is the read-only view of a network the core needs.
type Client interface {
	Network() domain.Network
	Balance(ctx context.Context, address string) (decimal.Decimal, error)
	GasPrice(ctx context.Context) (float64, error)
	Ping(ctx context.Context) error
	Close()
}

// Router dispatches by network.
type Router struct {
	clients map[domain.Network]Client
}

// NewRouter indexes clients by their network.
func NewRouter(clients ...Client) *Router {
	r := &Router{clients: make(map[domain.Network]Client, len(clients))}
	for _, c := range clients {
		r.clients[c.Network()] = c
	}
	return r
}

// Dial builds clients for every network with a configured URL.
func Dial(ctx context.Context, urls map[domain.Network][]string, logger *zap.Logger) (*Router, error) {
	var clients []Client
	for network, list := range urls {
		if len(list) == 0 {
			continue
		}
		switch {
		case network == domain.NetworkSolana:
			c, err := NewSolanaClient(list, logger)
			if err != nil {
				return nil, err
			}
			clients = append(clients, c)
		case network.IsEVM():
			c, err := NewEVMClient(ctx, network, list[0], logger)
			if err != nil {
				for _, done := range clients {
					done.Close()
				}
				return nil, err
			}
			clients = append(clients, c)
		default:
			return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedNetwork, network)
		}
	}
	return NewRouter(clients...), nil
}

func (r *Router) client(network domain.Network) (Client, error) {
	c, ok := r.clients[network]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoClient, network)
	}
	return c, nil
}

// GasPrice implements the transaction queue's gas oracle.
func (r *Router) GasPrice(ctx context.Context, network domain.Network) (float64, error) {
	c, err := r.client(network)
	if err != nil {
		return 0, err
	}
	return c.GasPrice(ctx)
}

// Balance returns the native balance of address on network.
func (r *Router) Balance(ctx context.Context, network domain.Network, address string) (decimal.Decimal, error) {
	c, err := r.client(network)
	if err != nil {
		return decimal.Zero, err
	}
	return c.Balance(ctx, address)
}

// Ping checks every configured network and returns the first failure.
func (r *Router) Ping(ctx context.Context) error {
	for network, c := range r.clients {
		if err := c.Ping(ctx); err != nil {
			return fmt.Errorf("%s: %w", network, err)
		}
	}
	return nil
}

// Networks lists the networks with a client.
func (r *Router) Networks() []domain.Network {
	out := make([]domain.Network, 0, len(r.clients))
	for _, n := range domain.SupportedNetworks() {
		if _, ok := r.clients[n]; ok {
			out = append(out, n)
		}
	}
	return out
}

// Close closes every client.
func (r *Router) Close() error {
	for _, c := range r.clients {
		c.Close()
	}
	return nil
}
