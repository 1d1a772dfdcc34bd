// internal/storage/storage.go
package storage

import (
	"context"
	"errors"
	"time"
)

// GlobalKey holds the aggregate over all users.
const GlobalKey = "global"

// ErrNotFound is returned by Get for unknown keys.
var ErrNotFound = errors.New("metrics record not found")

// UserKey is the key of a user's aggregate.
func UserKey(userID string) string { return "user:" + userID }

// Counters are additive trade metrics. Profit is the sum of per-trade P/L
// percentages and hold time is the sum of per-trade hold minutes, so
// averages are derived by dividing by TotalTrades.
type Counters struct {
	TotalTrades      int64   `json:"total_trades" bson:"totalTrades"`
	ProfitableTrades int64   `json:"profitable_trades" bson:"profitableTrades"`
	TotalProfit      float64 `json:"total_profit" bson:"totalProfit"`
	TotalHoldMinutes float64 `json:"total_hold_minutes" bson:"totalHoldMinutes"`
}

// Add returns the field-wise sum.
func (c Counters) Add(o Counters) Counters {
	return Counters{
		TotalTrades:      c.TotalTrades + o.TotalTrades,
		ProfitableTrades: c.ProfitableTrades + o.ProfitableTrades,
		TotalProfit:      c.TotalProfit + o.TotalProfit,
		TotalHoldMinutes: c.TotalHoldMinutes + o.TotalHoldMinutes,
	}
}

// WinRate is the percentage of profitable trades.
func (c Counters) WinRate() float64 {
	if c.TotalTrades == 0 {
		return 0
	}
	return float64(c.ProfitableTrades) / float64(c.TotalTrades) * 100
}

// AvgHoldMinutes is the mean hold time per trade.
func (c Counters) AvgHoldMinutes() float64 {
	if c.TotalTrades == 0 {
		return 0
	}
	return c.TotalHoldMinutes / float64(c.TotalTrades)
}

// AvgProfit is the mean P/L percentage per trade.
func (c Counters) AvgProfit() float64 {
	if c.TotalTrades == 0 {
		return 0
	}
	return c.TotalProfit / float64(c.TotalTrades)
}

// Record is a stored aggregate.
type Record struct {
	Key string `json:"key"`
	Counters
	UpdatedAt time.Time `json:"updated_at"`
}

// LiveSnapshot is the overwrite-only view of what the engine holds now.
type LiveSnapshot struct {
	ActivePositions int       `json:"active_positions" bson:"activePositions"`
	Tokens          []string  `json:"tokens" bson:"tokens"`
	UpdatedAt       time.Time `json:"updated_at" bson:"lastUpdated"`
}

// Snapshot is a point-in-time copy of the global aggregate.
type Snapshot struct {
	Counters
	Time time.Time `json:"time"`
}

// MetricsStore persists trade metrics. Increment must be additive and safe
// to call concurrently for different keys; UpsertLive overwrites.
type MetricsStore interface {
	Increment(ctx context.Context, key string, delta Counters) error
	Get(ctx context.Context, key string) (Record, error)
	// List returns records whose key starts with prefix, ordered by key.
	List(ctx context.Context, prefix string) ([]Record, error)

	UpsertLive(ctx context.Context, live LiveSnapshot) error
	// Live returns a zero snapshot when none was stored.
	Live(ctx context.Context) (LiveSnapshot, error)

	SaveSnapshot(ctx context.Context, c Counters) error
	// Snapshots returns the newest snapshots first.
	Snapshots(ctx context.Context, limit int) ([]Snapshot, error)

	Ping(ctx context.Context) error
	Close() error
}
