// internal/pricefeed/dexscreener.go

package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/rovshanmuradov/katz-bot/internal/domain"
)

const (
	dexScreenerURL       = "https://api.dexscreener.com/latest/dex"
	dexScreenerRateLimit = 300 // requests per minute
)

type dexScreenerResponse struct {
	Pairs []dexPair `json:"pairs"`
}

type dexPair struct {
	ChainID   string   `json:"chainId"`
	DexID     string   `json:"dexId"`
	BaseToken dexToken `json:"baseToken"`
	PriceUSD  string   `json:"priceUsd"`
	Liquidity struct {
		USD float64 `json:"usd"`
	} `json:"liquidity"`
}

type dexToken struct {
	Address string `json:"address"`
	Symbol  string `json:"symbol"`
	Name    string `json:"name"`
}

// DexScreener is a PriceSource backed by the public DexScreener API. The
// price of a token is taken from its most liquid pair on the network.
type DexScreener struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewDexScreener creates a source. An empty baseURL uses the public API.
func NewDexScreener(baseURL string, logger *zap.Logger) *DexScreener {
	if baseURL == "" {
		baseURL = dexScreenerURL
	}
	return &DexScreener{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Every(time.Minute/dexScreenerRateLimit), 1),
		logger:  logger.Named("dexscreener"),
	}
}

// GetTokenPrice implements PriceSource.
func (d *DexScreener) GetTokenPrice(ctx context.Context, network domain.Network, token string) (float64, error) {
	pair, err := d.bestPair(ctx, network, token)
	if err != nil {
		return 0, err
	}
	price, err := strconv.ParseFloat(pair.PriceUSD, 64)
	if err != nil || price <= 0 {
		return 0, fmt.Errorf("invalid price %q for %s: %w", pair.PriceUSD, token, ErrNoPrice)
	}
	return price, nil
}

// Candidate looks a token up and fills in what the intake filter needs.
// Holder counts are not published by DexScreener and are left at zero.
func (d *DexScreener) Candidate(ctx context.Context, network domain.Network, token string) (domain.TokenCandidate, error) {
	pair, err := d.bestPair(ctx, network, token)
	if err != nil {
		return domain.TokenCandidate{}, err
	}
	return domain.TokenCandidate{
		Token: domain.Token{
			Address: token,
			Symbol:  pair.BaseToken.Symbol,
			Name:    pair.BaseToken.Name,
			Network: network,
		},
		Liquidity: pair.Liquidity.USD,
		SeenAt:    time.Now(),
	}, nil
}

func (d *DexScreener) bestPair(ctx context.Context, network domain.Network, token string) (*dexPair, error) {
	url := fmt.Sprintf("%s/tokens/%s", d.baseURL, token)
	response, err := d.doRequest(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to get token pairs: %w", err)
	}

	var best *dexPair
	for i := range response.Pairs {
		pair := &response.Pairs[i]
		if pair.ChainID != string(network) {
			continue
		}
		if best == nil || pair.Liquidity.USD > best.Liquidity.USD {
			best = pair
		}
	}
	if best == nil {
		return nil, fmt.Errorf("no %s pair for token %s: %w", network, token, ErrNoPrice)
	}

	d.logger.Debug("Selected pair",
		zap.String("token", token),
		zap.String("dex", best.DexID),
		zap.Float64("liquidity_usd", best.Liquidity.USD))
	return best, nil
}

func (d *DexScreener) doRequest(ctx context.Context, url string) (*dexScreenerResponse, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(body))
	}

	var response dexScreenerResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &response, nil
}
