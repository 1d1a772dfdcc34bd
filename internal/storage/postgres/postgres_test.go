package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/rovshanmuradov/katz-bot/internal/storage"
	"github.com/rovshanmuradov/katz-bot/internal/storage/storagetest"
)

func TestGormLoggerLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := newGormLogger(zap.New(core))
	ctx := context.Background()
	sql := func() (string, int64) { return "SELECT 1", 1 }

	l.Trace(ctx, time.Now(), sql, errors.New("boom"))
	l.Trace(ctx, time.Now(), sql, gorm.ErrRecordNotFound)
	l.Trace(ctx, time.Now().Add(-time.Second), sql, nil)
	l.Trace(ctx, time.Now(), sql, nil)

	require.Equal(t, 2, logs.Len())
	assert.Equal(t, zapcore.ErrorLevel, logs.All()[0].Level)
	assert.Equal(t, "slow query", logs.All()[1].Message)

	silent := l.LogMode(logger.Silent)
	silent.Trace(ctx, time.Now(), sql, errors.New("boom"))
	silent.Error(ctx, "nope")
	assert.Equal(t, 2, logs.Len())

	l.LogMode(logger.Info).Trace(ctx, time.Now(), sql, nil)
	assert.Equal(t, 3, logs.Len())
}

func TestRowConversion(t *testing.T) {
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	c := storage.Counters{TotalTrades: 2, ProfitableTrades: 1, TotalProfit: 6, TotalHoldMinutes: 8}

	rec := fromRow(toRow(storage.GlobalKey, c, at))
	assert.Equal(t, storage.GlobalKey, rec.Key)
	assert.Equal(t, c, rec.Counters)
	assert.Equal(t, at, rec.UpdatedAt)

	assert.Len(t, incrementClause().DoUpdates, 5)
}

// Runs against a real server when KATZ_TEST_POSTGRES_DSN is set.
func TestStoreContract(t *testing.T) {
	dsn := os.Getenv("KATZ_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("KATZ_TEST_POSTGRES_DSN not set")
	}
	s, err := NewStore(dsn, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.db.Exec("TRUNCATE trade_metrics, live_metrics, metrics_snapshots").Error)

	storagetest.Run(t, s)
}
