// Package notify delivers operational alerts to operators.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/katz-bot/internal/events"
)

// Level is the severity of an alert.
type Level string

const (
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// Alert is one operator notification.
type Alert struct {
	Level     Level
	Component string
	Title     string
	Message   string
	Err       error
	Time      time.Time
}

// Notifier delivers alerts.
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to the log.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.Named("alerts")}
}

func (n *LogNotifier) Notify(_ context.Context, a Alert) error {
	fields := []zap.Field{
		zap.String("level", string(a.Level)),
		zap.String("component", a.Component),
		zap.String("message", a.Message),
	}
	if a.Err != nil {
		fields = append(fields, zap.Error(a.Err))
	}
	if a.Level == LevelCritical {
		n.logger.Error(a.Title, fields...)
	} else {
		n.logger.Warn(a.Title, fields...)
	}
	return nil
}

// Multi fans an alert out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, a Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FromEvent converts the bus events that warrant an alert. ok is false for
// anything else.
func FromEvent(ev events.Event) (Alert, bool) {
	switch e := ev.(type) {
	case events.AlertEvent:
		return Alert{
			Level:     LevelCritical,
			Component: e.Component,
			Title:     "Critical alert",
			Message:   e.Message,
			Err:       e.Err,
			Time:      e.Timestamp(),
		}, true
	case events.PositionEvent:
		if e.Type() != events.PositionCloseFailed {
			return Alert{}, false
		}
		return Alert{
			Level:     LevelCritical,
			Component: "flipper",
			Title:     "Position close failed",
			Message: fmt.Sprintf("%s (%s) could not be closed (%s), P/L %.2f%%. Manual action required.",
				e.Token.Symbol, e.Token.Address, e.Reason, e.ProfitLossPct),
			Err:  e.Err,
			Time: e.Timestamp(),
		}, true
	case events.HealthEvent:
		if e.Type() != events.HealthCritical {
			return Alert{}, false
		}
		return Alert{
			Level:     LevelCritical,
			Component: "health",
			Title:     "Health check failing",
			Message:   fmt.Sprintf("Failing checks: %v", e.Failing),
			Time:      e.Timestamp(),
		}, true
	case events.BreakerEvent:
		if e.Type() != events.BreakerOpened {
			return Alert{}, false
		}
		return Alert{
			Level:     LevelWarning,
			Component: "breaker",
			Title:     "Circuit opened",
			Message:   fmt.Sprintf("%s breaker opened after %d failures", e.Name, e.Failures),
			Err:       e.Err,
			Time:      e.Timestamp(),
		}, true
	}
	return Alert{}, false
}

// AlertTypes are the event types Handler should be subscribed to.
var AlertTypes = []events.Type{
	events.CriticalAlert,
	events.PositionCloseFailed,
	events.HealthCritical,
	events.BreakerOpened,
}

// Handler turns bus events into notifications.
type Handler struct {
	notifier Notifier
	logger   *zap.Logger
}

func NewHandler(n Notifier, logger *zap.Logger) *Handler {
	return &Handler{notifier: n, logger: logger.Named("notify")}
}

func (h *Handler) Handle(ctx context.Context, ev events.Event) error {
	alert, ok := FromEvent(ev)
	if !ok {
		return nil
	}
	if err := h.notifier.Notify(ctx, alert); err != nil {
		h.logger.Warn("Failed to deliver alert",
			zap.String("title", alert.Title),
			zap.Error(err))
		return err
	}
	return nil
}

// Attach subscribes h to AlertTypes on bus.
func (h *Handler) Attach(bus *events.Bus) events.Subscription {
	return bus.Subscribe(h, AlertTypes...)
}
