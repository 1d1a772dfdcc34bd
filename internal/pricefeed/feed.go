// Package pricefeed delivers per-token price ticks to subscribers.
package pricefeed

import (
	"context"
	"sync"
	"time"

	"github.com/rovshanmuradov/katz-bot/internal/domain"
)

// Tick is one price observation.
type Tick struct {
	Network domain.Network `json:"network"`
	Token   string         `json:"token"`
	Price   float64        `json:"price"`
	Time    time.Time      `json:"time"`
}

// TickFunc receives ticks. Delivery is at-least-once and ticks of different
// tokens are not ordered relative to each other.
type TickFunc func(Tick)

// Subscription is released with Unsubscribe. Unsubscribe is idempotent and
// safe to call from inside a TickFunc. A tick already being delivered may
// still arrive after it returns.
type Subscription interface {
	Unsubscribe()
}

// Feed is implemented by Poller and WSFeed.
type Feed interface {
	Subscribe(ctx context.Context, network domain.Network, token string, onTick TickFunc) (Subscription, error)
}

// PriceSource answers point-in-time price queries.
type PriceSource interface {
	GetTokenPrice(ctx context.Context, network domain.Network, token string) (float64, error)
}

type subscriptionFunc struct {
	once sync.Once
	fn   func()
}

func (s *subscriptionFunc) Unsubscribe() {
	s.once.Do(s.fn)
}

func key(network domain.Network, token string) string {
	return string(network) + ":" + token
}
