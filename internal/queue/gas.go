package queue

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/katz-bot/internal/domain"
	"github.com/rovshanmuradov/katz-bot/internal/events"
)

var errNoOracle = errors.New("no gas oracle configured")

// GasPrice is a cached oracle reading. Available is false when the last
// refresh failed.
type GasPrice struct {
	Price     float64   `json:"price"`
	Available bool      `json:"available"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GasPrice returns the cached price for network.
func (q *Queue) GasPrice(network domain.Network) (GasPrice, bool) {
	q.gasMu.RLock()
	defer q.gasMu.RUnlock()
	gp, ok := q.gasPrices[network]
	return gp, ok
}

// RefreshGasPrices queries the oracle for every network. A network whose
// oracle keeps failing is cached as unavailable; other networks are
// unaffected.
func (q *Queue) RefreshGasPrices(ctx context.Context) {
	for _, n := range q.cfg.Networks {
		price, err := q.fetchGasPrice(ctx, n)
		gp := GasPrice{Price: price, Available: err == nil, UpdatedAt: q.now()}
		if err != nil {
			gp.Price = 0
			q.logger.Error("Error fetching gas price",
				zap.String("network", n.String()),
				zap.Error(err))
		} else {
			q.logger.Debug("Gas price updated",
				zap.String("network", n.String()),
				zap.Float64("price", price))
		}

		q.gasMu.Lock()
		q.gasPrices[n] = gp
		q.gasMu.Unlock()

		_ = q.bus.Publish(events.GasEvent{
			Base:      events.NewBase(events.GasUpdated),
			Network:   n,
			Price:     gp.Price,
			Available: gp.Available,
		})
	}
}

func (q *Queue) fetchGasPrice(ctx context.Context, network domain.Network) (float64, error) {
	if q.oracle == nil {
		return 0, errNoOracle
	}
	tries := q.cfg.GasRetries
	if tries == 0 {
		tries = 1
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second

	return backoff.Retry(ctx, func() (float64, error) {
		return q.oracle.GasPrice(ctx, network)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(tries))
}

// RunGasRefresh refreshes immediately and then on every interval until ctx
// is done. It runs independently of transaction flow.
func (q *Queue) RunGasRefresh(ctx context.Context) {
	interval := q.cfg.GasRefreshInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	q.RefreshGasPrices(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.RefreshGasPrices(ctx)
		}
	}
}
