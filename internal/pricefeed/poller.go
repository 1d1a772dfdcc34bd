package pricefeed

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/katz-bot/internal/domain"
)

var (
	// ErrFeedClosed is returned by Subscribe after Close.
	ErrFeedClosed = errors.New("price feed closed")
	// ErrNoPrice means no price is known for the token yet.
	ErrNoPrice = errors.New("no price available")
)

// Poller polls a PriceSource on an interval, one goroutine per subscription.
type Poller struct {
	source   PriceSource
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	subs   map[*pollSub]struct{}
	closed bool
	wg     sync.WaitGroup
}

type pollSub struct {
	network domain.Network
	token   string
	onTick  TickFunc
	cancel  context.CancelFunc
}

// NewPoller creates a Poller. interval defaults to 2s.
func NewPoller(source PriceSource, interval time.Duration, logger *zap.Logger) *Poller {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Poller{
		source:   source,
		interval: interval,
		timeout:  10 * time.Second,
		logger:   logger.Named("price_poller"),
		subs:     make(map[*pollSub]struct{}),
	}
}

// Subscribe starts polling token. The first price is fetched immediately.
func (p *Poller) Subscribe(ctx context.Context, network domain.Network, token string, onTick TickFunc) (Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrFeedClosed
	}

	// Polling outlives the subscribing call; only Unsubscribe or Close stop it.
	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &pollSub{network: network, token: token, onTick: onTick, cancel: cancel}
	p.subs[s] = struct{}{}

	p.wg.Add(1)
	go p.run(subCtx, s)

	p.logger.Info("Starting price monitor",
		zap.String("network", network.String()),
		zap.String("token", token),
		zap.Duration("interval", p.interval))

	return &subscriptionFunc{fn: func() { p.remove(s) }}, nil
}

func (p *Poller) remove(s *pollSub) {
	p.mu.Lock()
	delete(p.subs, s)
	p.mu.Unlock()
	s.cancel()
}

func (p *Poller) run(ctx context.Context, s *pollSub) {
	defer p.wg.Done()

	p.poll(ctx, s)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("Price monitor stopped", zap.String("token", s.token))
			return
		case <-ticker.C:
			p.poll(ctx, s)
		}
	}
}

func (p *Poller) poll(ctx context.Context, s *pollSub) {
	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	price, err := p.source.GetTokenPrice(reqCtx, s.network, s.token)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Error("Failed to get token price",
				zap.String("token", s.token),
				zap.Error(err))
		}
		return
	}
	if ctx.Err() != nil {
		return
	}
	s.onTick(Tick{Network: s.network, Token: s.token, Price: price, Time: time.Now()})
}

// Active returns the number of live subscriptions.
func (p *Poller) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

// Close cancels every subscription and waits for the pollers to exit.
func (p *Poller) Close() error {
	p.mu.Lock()
	p.closed = true
	for s := range p.subs {
		s.cancel()
	}
	p.subs = make(map[*pollSub]struct{})
	p.mu.Unlock()

	p.wg.Wait()
	return nil
}
