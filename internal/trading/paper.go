package trading

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/katz-bot/internal/domain"
)

// PriceSource is the subset of pricefeed.PriceSource the paper executor needs.
type PriceSource interface {
	GetTokenPrice(ctx context.Context, network domain.Network, token string) (float64, error)
}

// Fill records one simulated execution.
type Fill struct {
	Network domain.Network
	Request domain.TradeRequest
	Result  domain.TradeResult
	Time    time.Time
}

// PaperExecutor simulates fills at the current source price with a fixed
// slippage. Buys report the token amount received, sells the native amount.
type PaperExecutor struct {
	network     domain.Network
	source      PriceSource
	slippageBps int64
	logger      *zap.Logger

	mu    sync.Mutex
	fills []Fill
}

// NewPaperExecutor creates a paper executor for network.
func NewPaperExecutor(network domain.Network, source PriceSource, slippageBps int64, logger *zap.Logger) *PaperExecutor {
	return &PaperExecutor{
		network:     network,
		source:      source,
		slippageBps: slippageBps,
		logger:      logger.Named("paper").With(zap.String("network", network.String())),
	}
}

// ExecuteTrade implements NetworkExecutor.
func (p *PaperExecutor) ExecuteTrade(ctx context.Context, req domain.TradeRequest) (domain.TradeResult, error) {
	if !req.Action.Valid() {
		return domain.TradeResult{}, fmt.Errorf("unknown action %q", req.Action)
	}
	if !req.Amount.IsPositive() {
		return domain.TradeResult{}, errors.New("amount must be positive")
	}

	price, err := p.source.GetTokenPrice(ctx, p.network, req.TokenAddress)
	if err != nil {
		return domain.TradeResult{}, fmt.Errorf("get price: %w", err)
	}
	if price <= 0 {
		return domain.TradeResult{}, fmt.Errorf("invalid price %v for %s", price, req.TokenAddress)
	}

	slippage := decimal.NewFromInt(p.slippageBps).Div(decimal.NewFromInt(10000))
	fillPrice := decimal.NewFromFloat(price)
	var amount decimal.Decimal
	if req.Action == domain.ActionBuy {
		// Buying: pay slightly more
		fillPrice = fillPrice.Mul(decimal.NewFromInt(1).Add(slippage))
		amount = req.Amount.Div(fillPrice)
	} else {
		// Selling: receive slightly less
		fillPrice = fillPrice.Mul(decimal.NewFromInt(1).Sub(slippage))
		amount = req.Amount.Mul(fillPrice)
	}

	fp, _ := fillPrice.Float64()
	result := domain.TradeResult{
		Price:  fp,
		Amount: amount,
		Hash:   "paper_" + uuid.NewString(),
	}

	p.mu.Lock()
	p.fills = append(p.fills, Fill{Network: p.network, Request: req, Result: result, Time: time.Now()})
	p.mu.Unlock()

	p.logger.Info("Order filled (PAPER)",
		zap.String("action", string(req.Action)),
		zap.String("token", req.TokenAddress),
		zap.String("fill_price", fillPrice.StringFixed(8)),
		zap.String("amount", amount.StringFixed(8)))
	return result, nil
}

// Fills returns a copy of the simulated fills.
func (p *PaperExecutor) Fills() []Fill {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Fill(nil), p.fills...)
}
