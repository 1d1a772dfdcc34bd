package ui

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/katz-bot/internal/events"
	"github.com/rovshanmuradov/katz-bot/internal/logger"
)

// ActivityTypes are the bus events shown in the activity feed.
var ActivityTypes = []events.Type{
	events.EngineStarted,
	events.EngineStopped,
	events.PositionOpened,
	events.PositionClosed,
	events.PositionCloseFailed,
	events.BreakerOpened,
	events.BreakerClosed,
	events.BreakerReset,
	events.QueuePaused,
	events.QueueResumed,
	events.TxFailed,
	events.RateLimited,
	events.CriticalAlert,
	events.HealthCritical,
}

// EventBridge forwards bus events to the UI without ever blocking the bus.
// Events that do not fit in the buffer are dropped and counted.
type EventBridge struct {
	ch      chan ActivityMsg
	sent    uint64
	dropped uint64
	sub     events.Subscription
	logger  *zap.Logger

	statsInterval time.Duration
	stop          chan struct{}
	once          sync.Once
}

// NewEventBridge subscribes to the activity events on bus.
func NewEventBridge(bus *events.Bus, size int, logger *zap.Logger) *EventBridge {
	if size <= 0 {
		size = 256
	}
	b := &EventBridge{
		ch:            make(chan ActivityMsg, size),
		logger:        logger.Named("ui_bridge"),
		statsInterval: 30 * time.Second,
		stop:          make(chan struct{}),
	}
	b.sub = bus.SubscribeFunc(b.handle, ActivityTypes...)
	go b.logStats()
	return b
}

// C is the stream the dashboard listens on.
func (b *EventBridge) C() <-chan ActivityMsg { return b.ch }

func (b *EventBridge) handle(_ context.Context, ev events.Event) error {
	msg, ok := describe(ev)
	if !ok {
		return nil
	}
	b.send(msg)
	return nil
}

func (b *EventBridge) send(msg ActivityMsg) {
	select {
	case b.ch <- msg:
		atomic.AddUint64(&b.sent, 1)
	default:
		atomic.AddUint64(&b.dropped, 1)
	}
}

// Stats returns how many events were forwarded and dropped.
func (b *EventBridge) Stats() (sent, dropped uint64) {
	return atomic.LoadUint64(&b.sent), atomic.LoadUint64(&b.dropped)
}

func (b *EventBridge) logStats() {
	ticker := time.NewTicker(b.statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sent, dropped := b.Stats()
			if dropped > 0 {
				b.logger.Warn("UI update statistics",
					zap.Uint64("sent", sent),
					zap.Uint64("dropped", dropped),
					zap.Float64("drop_rate", float64(dropped)/float64(sent+dropped)*100))
			}
		case <-b.stop:
			return
		}
	}
}

// Close unsubscribes from the bus. The channel stays open so a pending
// listener is not woken with a zero message.
func (b *EventBridge) Close() error {
	b.once.Do(func() {
		b.sub.Unsubscribe()
		close(b.stop)
	})
	return nil
}

// describe renders an event for the activity feed.
func describe(ev events.Event) (ActivityMsg, bool) {
	msg := ActivityMsg{Time: ev.Timestamp(), Type: ev.Type()}

	switch e := ev.(type) {
	case events.EngineEvent:
		if e.Type() == events.EngineStarted {
			msg.Message = fmt.Sprintf("FlipperMode started for %s on %s", e.UserID, logger.ShortenAddress(e.WalletAddress))
		} else {
			msg.Message = fmt.Sprintf("FlipperMode stopped for %s", e.UserID)
		}
	case events.PositionEvent:
		sym := symbol(e.Token.Symbol, e.Token.Address)
		switch e.Type() {
		case events.PositionOpened:
			msg.Message = fmt.Sprintf("Opened %s at %.6g", sym, e.EntryPrice)
		case events.PositionClosed:
			msg.Message = fmt.Sprintf("Closed %s (%s) P/L %+.2f%% after %s",
				sym, e.Reason, e.ProfitLossPct, e.HoldTime.Round(time.Second))
		case events.PositionCloseFailed:
			msg.Message = fmt.Sprintf("Close of %s failed (%s): %v", sym, e.Reason, e.Err)
			msg.Alert = true
		default:
			return ActivityMsg{}, false
		}
	case events.BreakerEvent:
		msg.Message = fmt.Sprintf("%s breaker %s", e.Name, e.State)
		if e.Type() == events.BreakerOpened {
			msg.Message += fmt.Sprintf(" after %d failures", e.Failures)
			msg.Alert = true
		}
	case events.QueueEvent:
		verb := "paused"
		if e.Type() == events.QueueResumed {
			verb = "resumed"
		}
		msg.Message = fmt.Sprintf("%s queue %s", e.Network, verb)
	case events.TxEvent:
		msg.Message = fmt.Sprintf("%s %s on %s failed: %v", e.Action, logger.ShortenAddress(e.Token), e.Network, e.Err)
	case events.RateLimitEvent:
		msg.Message = fmt.Sprintf("Rate limited %s for %s", e.Action, e.UserID)
	case events.AlertEvent:
		msg.Message = fmt.Sprintf("[%s] %s", e.Component, e.Message)
		msg.Alert = true
	case events.HealthEvent:
		msg.Message = "Health checks failing: " + strings.Join(e.Failing, ", ")
		msg.Alert = true
	default:
		return ActivityMsg{}, false
	}
	return msg, true
}

func symbol(sym, addr string) string {
	if sym != "" {
		return sym
	}
	return logger.ShortenAddress(addr)
}
