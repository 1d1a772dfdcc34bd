// internal/storage/postgres/postgres.go
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/rovshanmuradov/katz-bot/internal/storage"
	"github.com/rovshanmuradov/katz-bot/internal/storage/models"
)

const liveRowID = 1

// Store implements storage.MetricsStore on PostgreSQL through GORM.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewStore connects to dsn and runs migrations.
func NewStore(dsn string, zapLogger *zap.Logger) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: newGormLogger(zapLogger.Named("gorm")),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		DisableForeignKeyConstraintWhenMigrating: true,
		SkipDefaultTransaction:                   true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	s := &Store{db: db, logger: zapLogger.Named("postgres"), now: func() time.Time { return time.Now().UTC() }}
	if err := s.RunMigrations(); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return s, nil
}

// RunMigrations creates the metrics tables under an advisory lock.
func (s *Store) RunMigrations() error {
	var lockObtained bool
	err := s.db.Raw("SELECT pg_try_advisory_lock(101)").Scan(&lockObtained).Error
	if err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	if !lockObtained {
		return fmt.Errorf("another migration is in progress")
	}
	defer s.db.Exec("SELECT pg_advisory_unlock(101)")

	err = s.db.AutoMigrate(
		&models.TradeMetrics{},
		&models.LiveMetrics{},
		&models.MetricsSnapshot{},
	)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// incrementClause adds the incoming row to the stored one on key conflict.
func incrementClause() clause.OnConflict {
	return clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"total_trades":       gorm.Expr("trade_metrics.total_trades + EXCLUDED.total_trades"),
			"profitable_trades":  gorm.Expr("trade_metrics.profitable_trades + EXCLUDED.profitable_trades"),
			"total_profit":       gorm.Expr("trade_metrics.total_profit + EXCLUDED.total_profit"),
			"total_hold_minutes": gorm.Expr("trade_metrics.total_hold_minutes + EXCLUDED.total_hold_minutes"),
			"updated_at":         gorm.Expr("EXCLUDED.updated_at"),
		}),
	}
}

func toRow(key string, c storage.Counters, at time.Time) models.TradeMetrics {
	return models.TradeMetrics{
		Key:              key,
		TotalTrades:      c.TotalTrades,
		ProfitableTrades: c.ProfitableTrades,
		TotalProfit:      c.TotalProfit,
		TotalHoldMinutes: c.TotalHoldMinutes,
		UpdatedAt:        at,
	}
}

func fromRow(m models.TradeMetrics) storage.Record {
	return storage.Record{
		Key: m.Key,
		Counters: storage.Counters{
			TotalTrades:      m.TotalTrades,
			ProfitableTrades: m.ProfitableTrades,
			TotalProfit:      m.TotalProfit,
			TotalHoldMinutes: m.TotalHoldMinutes,
		},
		UpdatedAt: m.UpdatedAt,
	}
}

func (s *Store) Increment(ctx context.Context, key string, delta storage.Counters) error {
	row := toRow(key, delta, s.now())
	if err := s.db.WithContext(ctx).Clauses(incrementClause()).Create(&row).Error; err != nil {
		return fmt.Errorf("postgres: increment %s: %w", key, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (storage.Record, error) {
	var row models.TradeMetrics
	err := s.db.WithContext(ctx).Where("key = ?", key).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return storage.Record{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Record{}, err
	}
	return fromRow(row), nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]storage.Record, error) {
	var rows []models.TradeMetrics
	err := s.db.WithContext(ctx).
		Where("left(key, ?) = ?", len(prefix), prefix).
		Order("key").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]storage.Record, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromRow(r))
	}
	return out, nil
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
	row := models.LiveMetrics{
		ID:              liveRowID,
		ActivePositions: live.ActivePositions,
		Tokens:          string(tokens),
		UpdatedAt:       updated,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"active_positions", "tokens", "updated_at"}),
	}).Create(&row).Error
}

func (s *Store) Live(ctx context.Context) (storage.LiveSnapshot, error) {
	var row models.LiveMetrics
	err := s.db.WithContext(ctx).Where("id = ?", liveRowID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return storage.LiveSnapshot{}, nil
	}
	if err != nil {
		return storage.LiveSnapshot{}, err
	}
	live := storage.LiveSnapshot{ActivePositions: row.ActivePositions, UpdatedAt: row.UpdatedAt}
	if err := json.Unmarshal([]byte(row.Tokens), &live.Tokens); err != nil {
		return storage.LiveSnapshot{}, fmt.Errorf("postgres: decode tokens: %w", err)
	}
	return live, nil
}

func (s *Store) SaveSnapshot(ctx context.Context, c storage.Counters) error {
	row := models.MetricsSnapshot{
		TakenAt:          s.now(),
		TotalTrades:      c.TotalTrades,
		ProfitableTrades: c.ProfitableTrades,
		TotalProfit:      c.TotalProfit,
		TotalHoldMinutes: c.TotalHoldMinutes,
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *Store) Snapshots(ctx context.Context, limit int) ([]storage.Snapshot, error) {
	var rows []models.MetricsSnapshot
	q := s.db.WithContext(ctx).Order("id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]storage.Snapshot, 0, len(rows))
	for _, r := range rows {
		out = append(out, storage.Snapshot{
			Counters: storage.Counters{
				TotalTrades:      r.TotalTrades,
				ProfitableTrades: r.ProfitableTrades,
				TotalProfit:      r.TotalProfit,
				TotalHoldMinutes: r.TotalHoldMinutes,
			},
			Time: r.TakenAt,
		})
	}
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
