package flipper

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/katz-bot/internal/events"
	"github.com/rovshanmuradov/katz-bot/internal/storage"
)

// SessionStats summarises the trades closed during one run.
type SessionStats struct {
	TotalTrades    int     `json:"total_trades"`
	Profitable     int     `json:"profitable"`
	TotalProfit    float64 `json:"total_profit"`
	AvgProfit      float64 `json:"avg_profit"`
	WinRate        float64 `json:"win_rate"`
	AvgHoldMinutes float64 `json:"avg_hold_minutes"`
	BestTrade      float64 `json:"best_trade"`
	WorstTrade     float64 `json:"worst_trade"`
}

func computeStats(trades []ClosedTrade) SessionStats {
	var s SessionStats
	var hold time.Duration
	for i, t := range trades {
		if t.ProfitLoss > 0 {
			s.Profitable++
		}
		s.TotalProfit += t.ProfitLoss
		hold += t.HoldTime
		if i == 0 || t.ProfitLoss > s.BestTrade {
			s.BestTrade = t.ProfitLoss
		}
		if i == 0 || t.ProfitLoss < s.WorstTrade {
			s.WorstTrade = t.ProfitLoss
		}
	}
	s.TotalTrades = len(trades)
	if s.TotalTrades > 0 {
		n := float64(s.TotalTrades)
		s.AvgProfit = s.TotalProfit / n
		s.WinRate = float64(s.Profitable) / n * 100
		s.AvgHoldMinutes = hold.Minutes() / n
	}
	return s
}

// countersFor converts one closed trade into an additive delta.
func countersFor(t ClosedTrade) storage.Counters {
	c := storage.Counters{
		TotalTrades:      1,
		TotalProfit:      t.ProfitLoss,
		TotalHoldMinutes: t.HoldTime.Minutes(),
	}
	if t.ProfitLoss > 0 {
		c.ProfitableTrades = 1
	}
	return c
}

// recordTrade adds a closed trade to the user and global aggregates. A
// store failure does not undo the close; it is raised as an alert.
func (e *Engine) recordTrade(ctx context.Context, userID string, t ClosedTrade) {
	delta := countersFor(t)
	for _, key := range []string{storage.UserKey(userID), storage.GlobalKey} {
		if err := e.store.Increment(ctx, key, delta); err != nil {
			e.logger.Error("Failed to save trade metrics",
				zap.String("key", key),
				zap.String("token", t.Token.Address),
				zap.Error(err))
			e.alert(fmt.Sprintf("Failed to save %s trade metrics", key), err)
		}
	}
}

// UserMetrics is one user's persisted aggregate.
type UserMetrics struct {
	UserID string `json:"user_id"`
	storage.Counters
	AvgHoldMinutes float64   `json:"avg_hold_minutes"`
	WinRate        float64   `json:"win_rate"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// SystemMetrics is the persisted global aggregate.
type SystemMetrics struct {
	storage.Counters
	AvgHoldMinutes float64   `json:"avg_hold_minutes"`
	WinRate        float64   `json:"win_rate"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Metrics is the dashboard view returned by FetchMetrics.
type Metrics struct {
	System SystemMetrics        `json:"system"`
	Live   storage.LiveSnapshot `json:"live"`
	Users  []UserMetrics        `json:"users"`
}

// FetchMetrics combines the stored aggregates with the engine's live state.
func (e *Engine) FetchMetrics(ctx context.Context) (Metrics, error) {
	var m Metrics

	global, err := e.store.Get(ctx, storage.GlobalKey)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		e.logger.Debug("No system metrics found")
	case err != nil:
		return Metrics{}, fmt.Errorf("fetch system metrics: %w", err)
	default:
		m.System = SystemMetrics{
			Counters:       global.Counters,
			AvgHoldMinutes: global.AvgHoldMinutes(),
			WinRate:        global.WinRate(),
			UpdatedAt:      global.UpdatedAt,
		}
	}

	users, err := e.store.List(ctx, storage.UserKey(""))
	if err != nil {
		return Metrics{}, fmt.Errorf("fetch user metrics: %w", err)
	}
	for _, u := range users {
		m.Users = append(m.Users, UserMetrics{
			UserID:         strings.TrimPrefix(u.Key, storage.UserKey("")),
			Counters:       u.Counters,
			AvgHoldMinutes: u.AvgHoldMinutes(),
			WinRate:        u.WinRate(),
			UpdatedAt:      u.UpdatedAt,
		})
	}

	m.Live = e.liveSnapshot()
	if !m.System.UpdatedAt.IsZero() {
		m.Live.UpdatedAt = m.System.UpdatedAt
	}
	return m, nil
}

func (e *Engine) liveSnapshot() storage.LiveSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	live := storage.LiveSnapshot{Tokens: []string{}, UpdatedAt: e.now()}
	if e.run == nil {
		return live
	}
	for addr, p := range e.run.positions {
		if p.state == StateOpening {
			continue
		}
		live.Tokens = append(live.Tokens, addr)
	}
	sort.Strings(live.Tokens)
	live.ActivePositions = len(live.Tokens)
	return live
}

// saveLive overwrites the live snapshot. Failures are logged only.
func (e *Engine) saveLive(ctx context.Context) {
	if err := e.store.UpsertLive(ctx, e.liveSnapshot()); err != nil {
		e.logger.Warn("Error saving live system metrics", zap.Error(err))
	}
}

// snapshotLoop copies the global aggregate into the snapshot history.
func (e *Engine) snapshotLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.SnapshotSystemMetrics(ctx); err != nil {
				e.logger.Warn("Error saving system metrics snapshot", zap.Error(err))
			}
		}
	}
}

// SnapshotSystemMetrics saves the current global aggregate once.
func (e *Engine) SnapshotSystemMetrics(ctx context.Context) error {
	global, err := e.store.Get(ctx, storage.GlobalKey)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return e.store.SaveSnapshot(ctx, global.Counters)
}

func (e *Engine) alert(message string, err error) {
	_ = e.bus.Publish(events.AlertEvent{
		Base:      events.NewBase(events.CriticalAlert),
		Component: "flipper",
		Message:   message,
		Err:       err,
	})
}
