// Package trading routes trade requests to the executor of their network.
package trading

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/katz-bot/internal/domain"
)

// Executor executes a trade on any supported network.
type Executor interface {
	ExecuteTrade(ctx context.Context, network domain.Network, req domain.TradeRequest) (domain.TradeResult, error)
}

// NetworkExecutor executes trades on a single network.
type NetworkExecutor interface {
	ExecuteTrade(ctx context.Context, req domain.TradeRequest) (domain.TradeResult, error)
}

// NetworkExecutorFunc adapts a function to NetworkExecutor.
type NetworkExecutorFunc func(ctx context.Context, req domain.TradeRequest) (domain.TradeResult, error)

func (f NetworkExecutorFunc) ExecuteTrade(ctx context.Context, req domain.TradeRequest) (domain.TradeResult, error) {
	return f(ctx, req)
}

// Router dispatches to the executor registered for a network.
type Router struct {
	mu        sync.RWMutex
	executors map[domain.Network]NetworkExecutor
	logger    *zap.Logger
}

// NewRouter creates an empty router.
func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		executors: make(map[domain.Network]NetworkExecutor),
		logger:    logger.Named("trade_router"),
	}
}

// Register sets the executor for network, replacing any previous one.
func (r *Router) Register(network domain.Network, exec NetworkExecutor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[network] = exec
}

// ExecuteTrade implements Executor.
func (r *Router) ExecuteTrade(ctx context.Context, network domain.Network, req domain.TradeRequest) (domain.TradeResult, error) {
	r.mu.RLock()
	exec, ok := r.executors[network]
	r.mu.RUnlock()
	if !ok {
		return domain.TradeResult{}, fmt.Errorf("%w: no executor for %s", domain.ErrUnsupportedNetwork, network)
	}

	r.logger.Debug("Executing trade",
		zap.String("network", network.String()),
		zap.String("action", string(req.Action)),
		zap.String("token", req.TokenAddress),
		zap.String("amount", req.Amount.String()))

	result, err := exec.ExecuteTrade(ctx, req)
	if err != nil {
		return domain.TradeResult{}, err
	}

	r.logger.Info("Trade executed",
		zap.String("network", network.String()),
		zap.String("action", string(req.Action)),
		zap.String("token", req.TokenAddress),
		zap.Float64("price", result.Price),
		zap.String("hash", result.Hash))
	return result, nil
}

// Networks lists networks with a registered executor.
func (r *Router) Networks() []domain.Network {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Network
	for _, n := range domain.SupportedNetworks() {
		if _, ok := r.executors[n]; ok {
			out = append(out, n)
		}
	}
	return out
}
