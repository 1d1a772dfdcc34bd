package events

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rovshanmuradov/katz-bot/internal/domain"
)

// Type names an event stream.
type Type string

const (
	BreakerOpened Type = "breaker.open"
	BreakerClosed Type = "breaker.close"
	BreakerReset  Type = "breaker.reset"

	RateLimited Type = "ratelimit.rejected"

	TxQueued    Type = "tx.queued"
	TxCompleted Type = "tx.completed"
	TxFailed    Type = "tx.failed"

	QueuePaused  Type = "queue.paused"
	QueueResumed Type = "queue.resumed"
	GasUpdated   Type = "gas.updated"

	EngineStarted Type = "engine.started"
	EngineStopped Type = "engine.stopped"

	TokenRejected       Type = "token.rejected"
	PositionOpened      Type = "position.opened"
	PositionUpdated     Type = "position.updated"
	PositionClosed      Type = "position.closed"
	PositionCloseFailed Type = "position.close_failed"

	CriticalAlert Type = "alert.critical"

	HealthChecked  Type = "health.check"
	HealthCritical Type = "health.critical"
)

// Event is the base interface for everything sent over the bus.
type Event interface {
	Type() Type
	Timestamp() time.Time
}

// Base provides the common fields.
type Base struct {
	EventType Type
	EventTime time.Time
}

func (e Base) Type() Type           { return e.EventType }
func (e Base) Timestamp() time.Time { return e.EventTime }

// NewBase stamps an event with the current time.
func NewBase(t Type) Base {
	return Base{EventType: t, EventTime: time.Now()}
}

// BreakerEvent reports a breaker state transition.
type BreakerEvent struct {
	Base
	Name     string
	State    string
	Failures int
	Err      error
}

// RateLimitEvent reports a rejected request.
type RateLimitEvent struct {
	Base
	UserID string
	Action string
}

// TxEvent reports a transaction lifecycle step.
type TxEvent struct {
	Base
	ID      string
	Network domain.Network
	UserID  string
	Action  domain.TradeAction
	Token   string
	Result  *domain.TradeResult
	Err     error
}

// QueueEvent reports pause/resume of a network queue.
type QueueEvent struct {
	Base
	Network domain.Network
}

// GasEvent reports a refreshed gas price; Available is false when the oracle failed.
type GasEvent struct {
	Base
	Network   domain.Network
	Price     float64
	Available bool
}

// EngineEvent reports an engine start or stop.
type EngineEvent struct {
	Base
	UserID        string
	WalletAddress string
	WalletType    domain.WalletType
	Summary       any
}

// TokenEvent reports a candidate token dropped by the intake filter.
type TokenEvent struct {
	Base
	Token  domain.TokenCandidate
	Reason string
}

// PositionEvent reports a position lifecycle step.
type PositionEvent struct {
	Base
	UserID        string
	Token         domain.Token
	EntryPrice    float64
	CurrentPrice  float64
	ProfitLossPct float64
	Amount        decimal.Decimal
	// HoldTime is set on close.
	HoldTime time.Duration
	Reason   string
	TxHash   string
	Err      error
}

// AlertEvent carries an operational alert for operators.
type AlertEvent struct {
	Base
	Component string
	Message   string
	Err       error
}

// HealthEvent carries a health check round.
type HealthEvent struct {
	Base
	Results map[string]string
	Failing []string
}
