package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Handle(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func TestBusDeliversInOrder(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), 16)
	rec := &recorder{}
	bus.Subscribe(rec, TxQueued, TxCompleted)

	for i := 0; i < 5; i++ {
		require.NoError(t, bus.Publish(TxEvent{Base: NewBase(TxQueued), ID: string(rune('a' + i))}))
	}
	require.NoError(t, bus.Publish(TxEvent{Base: NewBase(TxCompleted), ID: "z"}))
	require.NoError(t, bus.Shutdown(context.Background()))

	got := rec.snapshot()
	require.Len(t, got, 6)
	assert.Equal(t, "a", got[0].(TxEvent).ID)
	assert.Equal(t, "e", got[4].(TxEvent).ID)
	assert.Equal(t, TxCompleted, got[5].Type())
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), 16)
	rec := &recorder{}
	sub := bus.Subscribe(rec, BreakerOpened)

	require.NoError(t, bus.PublishSync(context.Background(), BreakerEvent{Base: NewBase(BreakerOpened)}))
	sub.Unsubscribe()
	require.NoError(t, bus.PublishSync(context.Background(), BreakerEvent{Base: NewBase(BreakerOpened)}))

	assert.Len(t, rec.snapshot(), 1)
	assert.Empty(t, bus.Stats().HandlersPerType)
	require.NoError(t, bus.Shutdown(context.Background()))
}

func TestBusHandlerErrorsAndPanics(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), 4)
	defer bus.Close()

	boom := errors.New("boom")
	bus.SubscribeFunc(func(context.Context, Event) error { return boom }, CriticalAlert)
	bus.SubscribeFunc(func(context.Context, Event) error { panic("bad handler") }, CriticalAlert)

	err := bus.PublishSync(context.Background(), AlertEvent{Base: NewBase(CriticalAlert)})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "handler panic")
	assert.Equal(t, uint64(2), bus.Stats().HandlerFailures)
}

func TestBusDropsWhenFull(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), 1)
	block := make(chan struct{})
	started := make(chan struct{}, 1)
	bus.SubscribeFunc(func(context.Context, Event) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-block
		return nil
	}, GasUpdated)

	require.NoError(t, bus.Publish(GasEvent{Base: NewBase(GasUpdated)}))
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("handler never started")
	}
	require.NoError(t, bus.Publish(GasEvent{Base: NewBase(GasUpdated)}))
	assert.ErrorIs(t, bus.Publish(GasEvent{Base: NewBase(GasUpdated)}), ErrBusFull)
	assert.Equal(t, uint64(1), bus.Stats().Dropped)

	close(block)
	require.NoError(t, bus.Shutdown(context.Background()))
	assert.ErrorIs(t, bus.Publish(GasEvent{Base: NewBase(GasUpdated)}), ErrBusClosed)
}
