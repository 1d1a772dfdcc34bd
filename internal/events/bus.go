// Package events is the in-process pub/sub bus the trading core emits on.
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrBusClosed  = errors.New("event bus is shutting down")
	ErrBusFull    = errors.New("event channel full")
	errNilHandler = errors.New("nil handler")
)

// Bus is an in-memory event bus. Delivery is asynchronous and ordered:
// events are dispatched to handlers one at a time in publish order.
type Bus struct {
	mu         sync.RWMutex
	handlers   map[Type]map[string]Handler
	logger     *zap.Logger
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	eventChan  chan Event
	bufferSize int

	statsMu   sync.Mutex
	published uint64
	dropped   uint64
	failed    uint64
}

// NewBus creates a bus and starts its dispatch goroutine.
func NewBus(logger *zap.Logger, bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	bus := &Bus{
		handlers:   make(map[Type]map[string]Handler),
		logger:     logger.Named("event_bus"),
		ctx:        ctx,
		cancel:     cancel,
		eventChan:  make(chan Event, bufferSize),
		bufferSize: bufferSize,
	}

	bus.wg.Add(1)
	go bus.processEvents()

	return bus
}

// Subscribe registers a handler for one or more event types.
func (b *Bus) Subscribe(handler Handler, types ...Type) Subscription {
	if handler == nil {
		panic(errNilHandler)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.New().String()
	subs := make(multiSubscription, 0, len(types))
	for _, t := range types {
		if b.handlers[t] == nil {
			b.handlers[t] = make(map[string]Handler)
		}
		b.handlers[t][id] = handler
		subs = append(subs, &subscription{id: id, bus: b, typ: t})

		b.logger.Debug("Handler subscribed",
			zap.String("event_type", string(t)),
			zap.String("subscription_id", id))
	}
	return subs
}

// SubscribeFunc is Subscribe for a plain function.
func (b *Bus) SubscribeFunc(fn func(context.Context, Event) error, types ...Type) Subscription {
	return b.Subscribe(HandlerFunc(fn), types...)
}

// Publish queues an event for delivery. A full buffer drops the event.
func (b *Bus) Publish(event Event) error {
	select {
	case <-b.ctx.Done():
		return ErrBusClosed
	default:
	}

	select {
	case b.eventChan <- event:
		b.count(&b.published)
		return nil
	default:
		b.count(&b.dropped)
		b.logger.Warn("Event channel full, dropping event",
			zap.String("event_type", string(event.Type())))
		return ErrBusFull
	}
}

// PublishSync runs all handlers for the event on the caller's goroutine.
func (b *Bus) PublishSync(ctx context.Context, event Event) error {
	b.mu.RLock()
	handlers := b.handlers[event.Type()]
	handlersCopy := make(map[string]Handler, len(handlers))
	for id, h := range handlers {
		handlersCopy[id] = h
	}
	b.mu.RUnlock()

	var errs []error
	for id, handler := range handlersCopy {
		if err := b.safeHandle(ctx, handler, event); err != nil {
			b.count(&b.failed)
			b.logger.Error("Handler error",
				zap.String("event_type", string(event.Type())),
				zap.String("handler_id", id),
				zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *Bus) safeHandle(ctx context.Context, h Handler, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Handle(ctx, event)
}

func (b *Bus) processEvents() {
	defer b.wg.Done()

	for {
		select {
		case <-b.ctx.Done():
			for {
				select {
				case event := <-b.eventChan:
					_ = b.PublishSync(context.Background(), event)
				default:
					return
				}
			}
		case event := <-b.eventChan:
			_ = b.PublishSync(b.ctx, event)
		}
	}
}

func (b *Bus) unsubscribe(id string, t Type) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if handlers, ok := b.handlers[t]; ok {
		delete(handlers, id)
		if len(handlers) == 0 {
			delete(b.handlers, t)
		}
	}

	b.logger.Debug("Handler unsubscribed",
		zap.String("event_type", string(t)),
		zap.String("subscription_id", id))
}

// Shutdown stops accepting events and drains the buffer.
func (b *Bus) Shutdown(ctx context.Context) error {
	b.logger.Info("Shutting down event bus")
	b.cancel()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.logger.Info("Event bus shutdown complete")
		return nil
	case <-ctx.Done():
		b.logger.Warn("Event bus shutdown timeout")
		return ctx.Err()
	}
}

// Close implements io.Closer for the shutdown handler.
func (b *Bus) Close() error {
	return b.Shutdown(context.Background())
}

// Stats is a point-in-time view of bus activity.
type Stats struct {
	BufferSize      int            `json:"buffer_size"`
	Pending         int            `json:"pending_events"`
	Published       uint64         `json:"published"`
	Dropped         uint64         `json:"dropped"`
	HandlerFailures uint64         `json:"handler_failures"`
	HandlersPerType map[string]int `json:"handlers_per_type"`
}

// Stats returns counters and the current subscriber layout.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	perType := make(map[string]int, len(b.handlers))
	for t, handlers := range b.handlers {
		perType[string(t)] = len(handlers)
	}
	b.mu.RUnlock()

	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	return Stats{
		BufferSize:      b.bufferSize,
		Pending:         len(b.eventChan),
		Published:       b.published,
		Dropped:         b.dropped,
		HandlerFailures: b.failed,
		HandlersPerType: perType,
	}
}

func (b *Bus) count(c *uint64) {
	b.statsMu.Lock()
	*c++
	b.statsMu.Unlock()
}

type multiSubscription []*subscription

func (m multiSubscription) Unsubscribe() {
	for _, s := range m {
		s.Unsubscribe()
	}
}
