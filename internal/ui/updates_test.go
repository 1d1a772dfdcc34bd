package ui

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/katz-bot/internal/domain"
	"github.com/rovshanmuradov/katz-bot/internal/events"
)

func TestDescribe(t *testing.T) {
	tests := []struct {
		name      string
		event     events.Event
		want      string
		wantAlert bool
	}{
		{
			name: "position closed",
			event: events.PositionEvent{
				Base:          events.NewBase(events.PositionClosed),
				Token:         domain.Token{Address: "tokenA", Symbol: "AAA"},
				ProfitLossPct: 31.5,
				HoldTime:      90 * time.Second,
				Reason:        "take_profit",
			},
			want: "Closed AAA (take_profit) P/L +31.50% after 1m30s",
		},
		{
			name: "close failed",
			event: events.PositionEvent{
				Base:   events.NewBase(events.PositionCloseFailed),
				Token:  domain.Token{Address: "tokenA"},
				Reason: "stop_loss",
				Err:    errors.New("rpc down"),
			},
			want:      "Close of tokenA failed (stop_loss): rpc down",
			wantAlert: true,
		},
		{
			name: "breaker opened",
			event: events.BreakerEvent{
				Base:     events.NewBase(events.BreakerOpened),
				Name:     "pumpfun",
				State:    "OPEN",
				Failures: 10,
			},
			want:      "pumpfun breaker OPEN after 10 failures",
			wantAlert: true,
		},
		{
			name:  "queue resumed",
			event: events.QueueEvent{Base: events.NewBase(events.QueueResumed), Network: domain.NetworkBase},
			want:  "base queue resumed",
		},
		{
			name: "health critical",
			event: events.HealthEvent{
				Base:    events.NewBase(events.HealthCritical),
				Failing: []string{"database", "networks"},
			},
			want:      "Health checks failing: database, networks",
			wantAlert: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, ok := describe(tt.event)
			require.True(t, ok)
			assert.Equal(t, tt.want, msg.Message)
			assert.Equal(t, tt.wantAlert, msg.Alert)
			assert.Equal(t, tt.event.Type(), msg.Type)
		})
	}

	_, ok := describe(events.GasEvent{Base: events.NewBase(events.GasUpdated)})
	assert.False(t, ok)
}

func TestEventBridgeForwardsAndDrops(t *testing.T) {
	logger := zaptest.NewLogger(t)
	bus := events.NewBus(logger, 64)
	defer func() { _ = bus.Shutdown(context.Background()) }()

	bridge := NewEventBridge(bus, 2, logger)
	defer func() { _ = bridge.Close() }()

	for i := 0; i < 5; i++ {
		require.NoError(t, bus.Publish(events.QueueEvent{
			Base:    events.NewBase(events.QueuePaused),
			Network: domain.NetworkSolana,
		}))
	}
	// Not an activity type.
	require.NoError(t, bus.Publish(events.GasEvent{Base: events.NewBase(events.GasUpdated)}))

	require.Eventually(t, func() bool {
		sent, dropped := bridge.Stats()
		return sent+dropped == 5
	}, time.Second, 5*time.Millisecond)

	sent, dropped := bridge.Stats()
	assert.Equal(t, uint64(2), sent)
	assert.Equal(t, uint64(3), dropped)

	msg := <-bridge.C()
	assert.Equal(t, "solana queue paused", msg.Message)
}
