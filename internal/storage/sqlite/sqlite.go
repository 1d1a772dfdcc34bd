// Package sqlite is a MetricsStore on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/rovshanmuradov/katz-bot/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS trade_metrics (
    key                TEXT PRIMARY KEY,
    total_trades       INTEGER NOT NULL DEFAULT 0,
    profitable_trades  INTEGER NOT NULL DEFAULT 0,
    total_profit       REAL    NOT NULL DEFAULT 0,
    total_hold_minutes REAL    NOT NULL DEFAULT 0,
    updated_at         INTEGER NOT NULL
);

-- Single row, overwritten on every intake
CREATE TABLE IF NOT EXISTS live_metrics (
    id               INTEGER PRIMARY KEY CHECK (id = 1),
    active_positions INTEGER NOT NULL DEFAULT 0,
    tokens           TEXT    NOT NULL DEFAULT '[]',
    updated_at       INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS metrics_snapshots (
    id                 INTEGER PRIMARY KEY AUTOINCREMENT,
    taken_at           INTEGER NOT NULL,
    total_trades       INTEGER NOT NULL DEFAULT 0,
    profitable_trades  INTEGER NOT NULL DEFAULT 0,
    total_profit       REAL    NOT NULL DEFAULT 0,
    total_hold_minutes REAL    NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_snapshots_at ON metrics_snapshots(taken_at DESC);
`

// Store implements storage.MetricsStore.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// Open opens (or creates) the database at path. ":memory:" is accepted.
func Open(path string, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}
	// SQLite is single-writer, and ":memory:" is per connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}

	logger.Named("sqlite").Info("Metrics store opened", zap.String("path", path))
	return &Store{db: db, logger: logger.Named("sqlite"), now: time.Now}, nil
}

func (s *Store) Increment(ctx context.Context, key string, d storage.Counters) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trade_metrics
			(key, total_trades, profitable_trades, total_profit, total_hold_minutes, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			total_trades       = total_trades + excluded.total_trades,
			profitable_trades  = profitable_trades + excluded.profitable_trades,
			total_profit       = total_profit + excluded.total_profit,
			total_hold_minutes = total_hold_minutes + excluded.total_hold_minutes,
			updated_at         = excluded.updated_at`,
		key, d.TotalTrades, d.ProfitableTrades, d.TotalProfit, d.TotalHoldMinutes, s.now().UnixNano())
	if err != nil {
		return fmt.Errorf("sqlite: increment %s: %w", key, err)
	}
	return nil
}

func scanRecord(row interface{ Scan(...any) error }) (storage.Record, error) {
	var (
		r       storage.Record
		updated int64
	)
	if err := row.Scan(&r.Key, &r.TotalTrades, &r.ProfitableTrades, &r.TotalProfit, &r.TotalHoldMinutes, &updated); err != nil {
		return storage.Record{}, err
	}
	r.UpdatedAt = time.Unix(0, updated).UTC()
	return r, nil
}

const selectRecord = `SELECT key, total_trades, profitable_trades, total_profit, total_hold_minutes, updated_at FROM trade_metrics`

func (s *Store) Get(ctx context.Context, key string) (storage.Record, error) {
	r, err := scanRecord(s.db.QueryRowContext(ctx, selectRecord+` WHERE key = ?`, key))
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Record{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Record{}, fmt.Errorf("sqlite: get %s: %w", key, err)
	}
	return r, nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]storage.Record, error) {
	rows, err := s.db.QueryContext(ctx, selectRecord+` WHERE substr(key, 1, ?) = ? ORDER BY key`, len(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list %q: %w", prefix, err)
	}
	defer rows.Close()

	var out []storage.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) UpsertLive(ctx context.Context, live storage.LiveSnapshot) error {
	tokens, err := json.Marshal(live.Tokens)
	if err != nil {
		return err
	}
	updated := live.UpdatedAt
	if updated.IsZero() {
		updated = s.now()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO live_metrics (id, active_positions, tokens, updated_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			active_positions = excluded.active_positions,
			tokens           = excluded.tokens,
			updated_at       = excluded.updated_at`,
		live.ActivePositions, string(tokens), updated.UnixNano())
	if err != nil {
		return fmt.Errorf("sqlite: upsert live: %w", err)
	}
	return nil
}

func (s *Store) Live(ctx context.Context) (storage.LiveSnapshot, error) {
	var (
		live    storage.LiveSnapshot
		tokens  string
		updated int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT active_positions, tokens, updated_at FROM live_metrics WHERE id = 1`).
		Scan(&live.ActivePositions, &tokens, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.LiveSnapshot{}, nil
	}
	if err != nil {
		return storage.LiveSnapshot{}, fmt.Errorf("sqlite: live: %w", err)
	}
	if err := json.Unmarshal([]byte(tokens), &live.Tokens); err != nil {
		return storage.LiveSnapshot{}, fmt.Errorf("sqlite: decode tokens: %w", err)
	}
	live.UpdatedAt = time.Unix(0, updated).UTC()
	return live, nil
}

func (s *Store) SaveSnapshot(ctx context.Context, c storage.Counters) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO metrics_snapshots (taken_at, total_trades, profitable_trades, total_profit, total_hold_minutes)
		VALUES (?, ?, ?, ?, ?)`,
		s.now().UnixNano(), c.TotalTrades, c.ProfitableTrades, c.TotalProfit, c.TotalHoldMinutes)
	if err != nil {
		return fmt.Errorf("sqlite: save snapshot: %w", err)
	}
	return nil
}

func (s *Store) Snapshots(ctx context.Context, limit int) ([]storage.Snapshot, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT taken_at, total_trades, profitable_trades, total_profit, total_hold_minutes
		FROM metrics_snapshots ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: snapshots: %w", err)
	}
	defer rows.Close()

	var out []storage.Snapshot
	for rows.Next() {
		var (
			snap  storage.Snapshot
			taken int64
		)
		if err := rows.Scan(&taken, &snap.TotalTrades, &snap.ProfitableTrades, &snap.TotalProfit, &snap.TotalHoldMinutes); err != nil {
			return nil, fmt.Errorf("sqlite: scan snapshot: %w", err)
		}
		snap.Time = time.Unix(0, taken).UTC()
		out = append(out, snap)
	}
	return out, rows.Err()
}

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close() error {
	s.logger.Info("Closing metrics store")
	return s.db.Close()
}
