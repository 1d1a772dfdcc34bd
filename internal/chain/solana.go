package chain

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/katz-bot/internal/domain"
)

const (
	retryAttempts = 2
	retryDelay    = 500 * time.Millisecond
	reqTimeout    = 10 * time.Second
)

// SolanaClient round-robins requests over one or more RPC nodes.
type SolanaClient struct {
	nodes   []*solanarpc.Client
	urls    []string
	current int
	mu      sync.Mutex
	logger  *zap.Logger
}

// NewSolanaClient creates a client for the given node URLs.
func NewSolanaClient(urls []string, logger *zap.Logger) (*SolanaClient, error) {
	if len(urls) == 0 {
		return nil, ErrNoRPCNodes
	}

	nodes := make([]*solanarpc.Client, len(urls))
	for i, url := range urls {
		nodes[i] = solanarpc.New(url)
	}

	return &SolanaClient{
		nodes:  nodes,
		urls:   urls,
		logger: logger.Named("solana_rpc"),
	}, nil
}

// Network implements Client.
func (c *SolanaClient) Network() domain.Network { return domain.NetworkSolana }

func (c *SolanaClient) executeWithRetry(ctx context.Context, method string, operation func(context.Context, *solanarpc.Client) error) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, reqTimeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if timeoutCtx.Err() != nil {
			return ErrTimeout
		}

		c.mu.Lock()
		node := c.nodes[c.current]
		url := c.urls[c.current]
		c.current = (c.current + 1) % len(c.nodes)
		c.mu.Unlock()

		err := operation(timeoutCtx, node)
		if err == nil {
			return nil
		}
		lastErr = NewError(err, domain.NetworkSolana, url, method)

		c.logger.Debug("RPC request failed, trying next node",
			zap.String("url", url),
			zap.String("method", method),
			zap.Error(err),
			zap.Int("attempt", attempt+1))

		if attempt < retryAttempts-1 {
			select {
			case <-timeoutCtx.Done():
				return ErrTimeout
			case <-time.After(retryDelay):
			}
		}
	}
	return lastErr
}

// Balance returns the SOL balance of address.
func (c *SolanaClient) Balance(ctx context.Context, address string) (decimal.Decimal, error) {
	pubkey, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid solana address %q: %w", address, err)
	}

	var lamports uint64
	err = c.executeWithRetry(ctx, "getBalance", func(ctx context.Context, client *solanarpc.Client) error {
		res, err := client.GetBalance(ctx, pubkey, solanarpc.CommitmentConfirmed)
		if err != nil {
			return err
		}
		lamports = res.Value
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromBigInt(new(big.Int).SetUint64(lamports), -9), nil
}

// GasPrice returns the median recent prioritization fee in micro-lamports
// per compute unit.
func (c *SolanaClient) GasPrice(ctx context.Context) (float64, error) {
	var fees []uint64
	err := c.executeWithRetry(ctx, "getRecentPrioritizationFees", func(ctx context.Context, client *solanarpc.Client) error {
		res, err := client.GetRecentPrioritizationFees(ctx, nil)
		if err != nil {
			return err
		}
		fees = fees[:0]
		for _, f := range res {
			fees = append(fees, f.PrioritizationFee)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return medianFee(fees), nil
}

func medianFee(fees []uint64) float64 {
	if len(fees) == 0 {
		return 0
	}
	sorted := append([]uint64(nil), fees...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return float64(sorted[mid-1]+sorted[mid]) / 2
	}
	return float64(sorted[mid])
}

// Ping checks node health.
func (c *SolanaClient) Ping(ctx context.Context) error {
	return c.executeWithRetry(ctx, "getHealth", func(ctx context.Context, client *solanarpc.Client) error {
		_, err := client.GetHealth(ctx)
		return err
	})
}

// Close implements Client.
func (c *SolanaClient) Close() {}
