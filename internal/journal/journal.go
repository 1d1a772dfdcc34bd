// Package journal keeps a CSV record of closed positions and a bounded
// in-memory list of the most recent ones.
package journal

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/katz-bot/internal/domain"
	"github.com/rovshanmuradov/katz-bot/internal/events"
)

// Entry is one closed position.
type Entry struct {
	Time       time.Time      `json:"time"`
	UserID     string         `json:"user_id"`
	Network    domain.Network `json:"network"`
	Token      string         `json:"token"`
	Symbol     string         `json:"symbol"`
	EntryPrice float64        `json:"entry_price"`
	ExitPrice  float64        `json:"exit_price"`
	ProfitLoss float64        `json:"profit_loss"`
	Amount     string         `json:"amount"`
	HoldTime   time.Duration  `json:"hold_time"`
	Reason     string         `json:"reason"`
	TxHash     string         `json:"tx_hash"`
}

// Header is the CSV column layout.
func Header() []string {
	return []string{"timestamp", "user_id", "network", "token", "symbol", "entry_price",
		"exit_price", "pnl_pct", "amount", "hold_seconds", "reason", "tx_hash"}
}

// Record returns the entry in Header order.
func (e Entry) Record() []string {
	return []string{
		e.Time.UTC().Format(time.RFC3339),
		e.UserID,
		string(e.Network),
		e.Token,
		e.Symbol,
		strconv.FormatFloat(e.EntryPrice, 'f', -1, 64),
		strconv.FormatFloat(e.ExitPrice, 'f', -1, 64),
		strconv.FormatFloat(e.ProfitLoss, 'f', 4, 64),
		e.Amount,
		strconv.FormatFloat(e.HoldTime.Seconds(), 'f', 0, 64),
		e.Reason,
		e.TxHash,
	}
}

// FromEvent converts a position.closed event.
func FromEvent(ev events.PositionEvent) Entry {
	return Entry{
		Time:       ev.Timestamp(),
		UserID:     ev.UserID,
		Network:    ev.Token.Network,
		Token:      ev.Token.Address,
		Symbol:     ev.Token.Symbol,
		EntryPrice: ev.EntryPrice,
		ExitPrice:  ev.CurrentPrice,
		ProfitLoss: ev.ProfitLossPct,
		Amount:     ev.Amount.String(),
		HoldTime:   ev.HoldTime,
		Reason:     ev.Reason,
		TxHash:     ev.TxHash,
	}
}

// Stats aggregates every entry logged since the journal was opened.
type Stats struct {
	Trades     int            `json:"trades"`
	Wins       int            `json:"wins"`
	Losses     int            `json:"losses"`
	WinRate    float64        `json:"win_rate"`
	TotalPnL   float64        `json:"total_pnl"`
	AvgWinPnL  float64        `json:"avg_win_pnl"`
	AvgLossPnL float64        `json:"avg_loss_pnl"`
	ByReason   map[string]int `json:"by_reason"`
}

// Journal writes closed positions to a CSV file.
type Journal struct {
	mu     sync.RWMutex
	writer *CSVWriter
	recent []Entry
	limit  int
	logger *zap.Logger

	stats   Stats
	winSum  float64
	lossSum float64
}

// Open creates trades_<timestamp>.csv under dir. limit bounds the number of
// entries kept in memory.
func Open(dir string, limit int, flushInterval time.Duration, logger *zap.Logger) (*Journal, error) {
	logger = logger.Named("journal")
	if limit <= 0 {
		limit = 100
	}
	if flushInterval <= 0 {
		flushInterval = 30 * time.Second
	}

	path := filepath.Join(dir, fmt.Sprintf("trades_%s.csv", time.Now().Format("20060102_150405")))
	w, err := NewCSVWriter(path, Header(), flushInterval, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create CSV writer: %w", err)
	}

	logger.Info("Trade journal initialized",
		zap.String("csv_file", path),
		zap.Int("max_memory_trades", limit))

	return &Journal{
		writer: w,
		recent: make([]Entry, 0, limit),
		limit:  limit,
		logger: logger,
		stats:  Stats{ByReason: make(map[string]int)},
	}, nil
}

// Log appends one entry.
func (j *Journal) Log(e Entry) error {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.writer.WriteRecord(e.Record()); err != nil {
		j.logger.Error("Failed to write trade to CSV",
			zap.String("token", e.Token),
			zap.Error(err))
		return fmt.Errorf("failed to write trade: %w", err)
	}

	if len(j.recent) >= j.limit {
		j.recent = j.recent[1:]
	}
	j.recent = append(j.recent, e)

	j.stats.Trades++
	j.stats.TotalPnL += e.ProfitLoss
	j.stats.ByReason[e.Reason]++
	switch {
	case e.ProfitLoss > 0:
		j.stats.Wins++
		j.winSum += e.ProfitLoss
	case e.ProfitLoss < 0:
		j.stats.Losses++
		j.lossSum += e.ProfitLoss
	}

	j.logger.Debug("Trade logged",
		zap.String("token", e.Token),
		zap.String("reason", e.Reason),
		zap.Float64("pnl", e.ProfitLoss))
	return nil
}

// Handle implements events.Handler for position.closed.
func (j *Journal) Handle(_ context.Context, ev events.Event) error {
	pe, ok := ev.(events.PositionEvent)
	if !ok || pe.Type() != events.PositionClosed {
		return nil
	}
	return j.Log(FromEvent(pe))
}

// Attach subscribes the journal to closed positions on bus.
func (j *Journal) Attach(bus *events.Bus) events.Subscription {
	return bus.Subscribe(j, events.PositionClosed)
}

// Recent returns up to limit of the newest entries, oldest first.
func (j *Journal) Recent(limit int) []Entry {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if limit <= 0 || limit > len(j.recent) {
		limit = len(j.recent)
	}
	out := make([]Entry, limit)
	copy(out, j.recent[len(j.recent)-limit:])
	return out
}

// ByToken returns the in-memory entries for one token.
func (j *Journal) ByToken(token string) []Entry {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var out []Entry
	for _, e := range j.recent {
		if e.Token == token {
			out = append(out, e)
		}
	}
	return out
}

// Stats returns the running aggregate.
func (j *Journal) Stats() Stats {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.statsLocked()
}

func (j *Journal) statsLocked() Stats {
	s := j.stats
	s.ByReason = make(map[string]int, len(j.stats.ByReason))
	for k, v := range j.stats.ByReason {
		s.ByReason[k] = v
	}
	if s.Trades > 0 {
		s.WinRate = float64(s.Wins) / float64(s.Trades) * 100
	}
	if s.Wins > 0 {
		s.AvgWinPnL = j.winSum / float64(s.Wins)
	}
	if s.Losses > 0 {
		s.AvgLossPnL = j.lossSum / float64(s.Losses)
	}
	return s
}

// Path returns the CSV file path.
func (j *Journal) Path() string { return j.writer.Path() }

// Flush forces buffered entries to disk.
func (j *Journal) Flush() error {
	return j.writer.Flush()
}

// Close flushes and closes the file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	stats := j.statsLocked()
	j.logger.Info("Closing trade journal",
		zap.Int("trades", stats.Trades),
		zap.Float64("total_pnl", stats.TotalPnL),
		zap.Float64("win_rate", stats.WinRate))

	return j.writer.Close()
}
