package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/rovshanmuradov/katz-bot/internal/domain"
	"github.com/rovshanmuradov/katz-bot/internal/events"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return tgbotapi.Message{}, f.err
	}
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []Alert
}

func (r *recordingNotifier) Notify(_ context.Context, a Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return nil
}

func TestFromEvent(t *testing.T) {
	closeFailed := events.PositionEvent{
		Base:          events.NewBase(events.PositionCloseFailed),
		Token:         domain.Token{Address: "Mint1", Symbol: "PEPE"},
		ProfitLossPct: -3.5,
		Reason:        "stop_loss",
		Err:           errors.New("rpc down"),
	}
	a, ok := FromEvent(closeFailed)
	require.True(t, ok)
	assert.Equal(t, LevelCritical, a.Level)
	assert.Contains(t, a.Message, "PEPE")
	assert.Contains(t, a.Message, "stop_loss")

	_, ok = FromEvent(events.PositionEvent{Base: events.NewBase(events.PositionClosed)})
	assert.False(t, ok)

	a, ok = FromEvent(events.BreakerEvent{Base: events.NewBase(events.BreakerOpened), Name: "pumpfun", Failures: 10})
	require.True(t, ok)
	assert.Equal(t, LevelWarning, a.Level)

	_, ok = FromEvent(events.BreakerEvent{Base: events.NewBase(events.BreakerClosed)})
	assert.False(t, ok)

	a, ok = FromEvent(events.HealthEvent{Base: events.NewBase(events.HealthCritical), Failing: []string{"database"}})
	require.True(t, ok)
	assert.Contains(t, a.Message, "database")
}

func TestTelegramFormatsMarkdown(t *testing.T) {
	sender := &fakeSender{}
	tg := NewTelegramWithSender(sender, 42, zaptest.NewLogger(t))

	err := tg.Notify(context.Background(), Alert{
		Level:     LevelCritical,
		Component: "flipper",
		Title:     "Position close failed",
		Message:   "token_x failed",
		Err:       errors.New("boom"),
	})
	require.NoError(t, err)
	require.Len(t, sender.sent, 1)

	msg := sender.sent[0]
	assert.Equal(t, int64(42), msg.ChatID)
	assert.Equal(t, tgbotapi.ModeMarkdown, msg.ParseMode)
	assert.Contains(t, msg.Text, "*Position close failed*")
	assert.Contains(t, msg.Text, `token\_x failed`)
	assert.Contains(t, msg.Text, "Error: boom")
}

func TestTelegramSendError(t *testing.T) {
	tg := NewTelegramWithSender(&fakeSender{err: errors.New("403")}, 1, zaptest.NewLogger(t))
	err := tg.Notify(context.Background(), Alert{Title: "x"})
	assert.ErrorContains(t, err, "403")
}

func TestNewTelegramRequiresCredentials(t *testing.T) {
	_, err := NewTelegram("", 1, zap.NewNop())
	assert.Error(t, err)
	_, err = NewTelegram("token", 0, zap.NewNop())
	assert.Error(t, err)
}

func TestHandlerOnBus(t *testing.T) {
	logger := zaptest.NewLogger(t)
	bus := events.NewBus(logger, 16)
	rec := &recordingNotifier{}
	sub := NewHandler(rec, logger).Attach(bus)
	defer sub.Unsubscribe()

	ctx := context.Background()
	require.NoError(t, bus.PublishSync(ctx, events.AlertEvent{
		Base:      events.NewBase(events.CriticalAlert),
		Component: "flipper",
		Message:   "store down",
	}))
	require.NoError(t, bus.PublishSync(ctx, events.PositionEvent{Base: events.NewBase(events.PositionOpened)}))

	require.Len(t, rec.alerts, 1)
	assert.Equal(t, "store down", rec.alerts[0].Message)
	require.NoError(t, bus.Shutdown(ctx))
}

func TestLogNotifierAndMulti(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	rec := &recordingNotifier{}
	m := Multi{NewLogNotifier(zap.New(core)), rec}

	require.NoError(t, m.Notify(context.Background(), Alert{Level: LevelCritical, Title: "t", Time: time.Now()}))
	assert.Equal(t, 1, logs.FilterMessage("t").Len())
	assert.Len(t, rec.alerts, 1)
}
