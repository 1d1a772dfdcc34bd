package flipper

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rovshanmuradov/katz-bot/internal/domain"
	"github.com/rovshanmuradov/katz-bot/internal/pricefeed"
)

// PositionState is the lifecycle state of a tracked position.
type PositionState string

const (
	StateOpening PositionState = "OPENING"
	StateOpen    PositionState = "OPEN"
	StateClosing PositionState = "CLOSING"
	StateClosed  PositionState = "CLOSED"
)

// Exit reasons.
const (
	ReasonTakeProfit = "take_profit"
	ReasonStopLoss   = "stop_loss"
	ReasonTimeout    = "timeout"
	ReasonManual     = "manual"
	ReasonManualStop = "manual_stop"
)

// position is guarded by the engine mutex.
type position struct {
	token       domain.TokenCandidate
	state       PositionState
	entryPrice  float64
	amount      decimal.Decimal
	entryTime   time.Time
	txHash      string
	walletType  domain.WalletType
	preApproved bool

	currentPrice float64
	highPrice    float64
	lowPrice     float64
	updates      int

	sub   pricefeed.Subscription
	timer *time.Timer
}

func (p *position) profitLoss() float64 {
	return profitLossPct(p.entryPrice, p.currentPrice)
}

func (p *position) observe(price float64) {
	p.currentPrice = price
	if price > p.highPrice {
		p.highPrice = price
	}
	if p.lowPrice == 0 || price < p.lowPrice {
		p.lowPrice = price
	}
	p.updates++
}

// detach hands back the subscription and timer so they can be released
// outside the lock.
func (p *position) detach() (pricefeed.Subscription, *time.Timer) {
	sub, timer := p.sub, p.timer
	p.sub, p.timer = nil, nil
	return sub, timer
}

func release(sub pricefeed.Subscription, timer *time.Timer) {
	if timer != nil {
		timer.Stop()
	}
	if sub != nil {
		sub.Unsubscribe()
	}
}

func profitLossPct(entry, current float64) float64 {
	if entry <= 0 {
		return 0
	}
	return (current - entry) / entry * 100
}

// exitReason applies the automatic exit rules to a P/L percentage.
func exitReason(pl float64, cfg MonitorConfig) string {
	switch {
	case pl >= cfg.ProfitTarget:
		return ReasonTakeProfit
	case pl <= -cfg.StopLoss:
		return ReasonStopLoss
	}
	return ""
}

// PositionView is a read-only copy of an open position.
type PositionView struct {
	Token        domain.Token    `json:"token"`
	State        PositionState   `json:"state"`
	EntryPrice   float64         `json:"entry_price"`
	CurrentPrice float64         `json:"current_price"`
	HighPrice    float64         `json:"high_price"`
	LowPrice     float64         `json:"low_price"`
	ProfitLoss   float64         `json:"profit_loss"`
	Amount       decimal.Decimal `json:"amount"`
	EntryTime    time.Time       `json:"entry_time"`
	TimeElapsed  time.Duration   `json:"time_elapsed"`
	TxHash       string          `json:"tx_hash"`
}

func (p *position) view(now time.Time) PositionView {
	current := p.currentPrice
	if current == 0 {
		current = p.entryPrice
	}
	v := PositionView{
		Token:        p.token.Token,
		State:        p.state,
		EntryPrice:   p.entryPrice,
		CurrentPrice: current,
		HighPrice:    p.highPrice,
		LowPrice:     p.lowPrice,
		ProfitLoss:   profitLossPct(p.entryPrice, current),
		Amount:       p.amount,
		EntryTime:    p.entryTime,
		TxHash:       p.txHash,
	}
	if !p.entryTime.IsZero() {
		v.TimeElapsed = now.Sub(p.entryTime)
	}
	return v
}

// ClosedTrade records a completed round trip.
type ClosedTrade struct {
	Token      domain.Token  `json:"token"`
	EntryPrice float64       `json:"entry_price"`
	ExitPrice  float64       `json:"exit_price"`
	ProfitLoss float64       `json:"profit_loss"`
	Reason     string        `json:"reason"`
	EntryTime  time.Time     `json:"entry_time"`
	ExitTime   time.Time     `json:"exit_time"`
	HoldTime   time.Duration `json:"hold_time"`
	TxHash     string        `json:"tx_hash"`
}
