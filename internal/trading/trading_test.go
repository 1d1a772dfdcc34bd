package trading

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/katz-bot/internal/domain"
)

type fixedPrice struct {
	price float64
	err   error
}

func (f fixedPrice) GetTokenPrice(context.Context, domain.Network, string) (float64, error) {
	return f.price, f.err
}

func TestPaperExecutor(t *testing.T) {
	p := NewPaperExecutor(domain.NetworkSolana, fixedPrice{price: 2}, 100, zaptest.NewLogger(t))
	ctx := context.Background()

	buy, err := p.ExecuteTrade(ctx, domain.TradeRequest{
		Action: domain.ActionBuy, TokenAddress: "mint", Amount: decimal.RequireFromString("2.02"),
	})
	require.NoError(t, err)
	assert.InDelta(t, 2.02, buy.Price, 1e-9)
	assert.Equal(t, "1", buy.Amount.String())
	assert.True(t, strings.HasPrefix(buy.Hash, "paper_"))

	sell, err := p.ExecuteTrade(ctx, domain.TradeRequest{
		Action: domain.ActionSell, TokenAddress: "mint", Amount: decimal.NewFromInt(10),
	})
	require.NoError(t, err)
	assert.InDelta(t, 1.98, sell.Price, 1e-9)
	assert.Equal(t, "19.8", sell.Amount.String())

	assert.Len(t, p.Fills(), 2)
}

func TestPaperExecutorRejects(t *testing.T) {
	ctx := context.Background()
	p := NewPaperExecutor(domain.NetworkSolana, fixedPrice{price: 1}, 0, zaptest.NewLogger(t))

	_, err := p.ExecuteTrade(ctx, domain.TradeRequest{Action: "hold", Amount: decimal.NewFromInt(1)})
	assert.Error(t, err)
	_, err = p.ExecuteTrade(ctx, domain.TradeRequest{Action: domain.ActionBuy})
	assert.Error(t, err)

	broken := NewPaperExecutor(domain.NetworkSolana, fixedPrice{err: errors.New("no quote")}, 0, zaptest.NewLogger(t))
	_, err = broken.ExecuteTrade(ctx, domain.TradeRequest{Action: domain.ActionBuy, Amount: decimal.NewFromInt(1)})
	assert.ErrorContains(t, err, "no quote")
	assert.Empty(t, broken.Fills())
}

func TestRouter(t *testing.T) {
	r := NewRouter(zaptest.NewLogger(t))
	r.Register(domain.NetworkBase, NetworkExecutorFunc(func(_ context.Context, req domain.TradeRequest) (domain.TradeResult, error) {
		return domain.TradeResult{Price: 3, Amount: req.Amount, Hash: "0xabc"}, nil
	}))

	res, err := r.ExecuteTrade(context.Background(), domain.NetworkBase, domain.TradeRequest{
		Action: domain.ActionBuy, Amount: decimal.NewFromInt(1),
	})
	require.NoError(t, err)
	assert.Equal(t, "0xabc", res.Hash)

	_, err = r.ExecuteTrade(context.Background(), domain.NetworkSolana, domain.TradeRequest{})
	assert.ErrorIs(t, err, domain.ErrUnsupportedNetwork)
	assert.Equal(t, []domain.Network{domain.NetworkBase}, r.Networks())
}
