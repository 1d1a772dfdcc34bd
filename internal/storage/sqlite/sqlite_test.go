package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/katz-bot/internal/storage"
	"github.com/rovshanmuradov/katz-bot/internal/storage/storagetest"
)

func TestStoreContract(t *testing.T) {
	s, err := Open(":memory:", zaptest.NewLogger(t))
	require.NoError(t, err)
	defer s.Close()

	storagetest.Run(t, s)
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.db")
	ctx := context.Background()

	s, err := Open(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, s.Increment(ctx, storage.GlobalKey, storage.Counters{TotalTrades: 2, TotalProfit: 6}))
	require.NoError(t, s.Close())

	s, err = Open(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer s.Close()

	rec, err := s.Get(ctx, storage.GlobalKey)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.TotalTrades)
	assert.InDelta(t, 6.0, rec.TotalProfit, 1e-9)
}
