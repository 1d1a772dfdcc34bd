// Package storagetest holds the behaviour every MetricsStore must share.
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rovshanmuradov/katz-bot/internal/storage"
)

// Run exercises store against the MetricsStore contract. store must be empty.
func Run(t *testing.T, store storage.MetricsStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("increment is additive", func(t *testing.T) {
		key := storage.UserKey("additive")
		require.NoError(t, store.Increment(ctx, key, storage.Counters{TotalTrades: 1, ProfitableTrades: 1, TotalProfit: 10, TotalHoldMinutes: 3}))
		require.NoError(t, store.Increment(ctx, key, storage.Counters{TotalTrades: 1, TotalProfit: -4, TotalHoldMinutes: 5}))

		rec, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, key, rec.Key)
		assert.Equal(t, int64(2), rec.TotalTrades)
		assert.Equal(t, int64(1), rec.ProfitableTrades)
		assert.InDelta(t, 6.0, rec.TotalProfit, 1e-9)
		assert.InDelta(t, 4.0, rec.AvgHoldMinutes(), 1e-9)
		assert.False(t, rec.UpdatedAt.IsZero())
	})

	t.Run("missing key", func(t *testing.T) {
		_, err := store.Get(ctx, "user:nobody")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("concurrent increments", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			key := storage.UserKey(fmt.Sprintf("c%d", i))
			for j := 0; j < 10; j++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					assert.NoError(t, store.Increment(ctx, key, storage.Counters{TotalTrades: 1}))
					assert.NoError(t, store.Increment(ctx, storage.GlobalKey, storage.Counters{TotalTrades: 1}))
				}()
			}
		}
		wg.Wait()

		for i := 0; i < 4; i++ {
			rec, err := store.Get(ctx, storage.UserKey(fmt.Sprintf("c%d", i)))
			require.NoError(t, err)
			assert.Equal(t, int64(10), rec.TotalTrades)
		}
		global, err := store.Get(ctx, storage.GlobalKey)
		require.NoError(t, err)
		assert.Equal(t, int64(40), global.TotalTrades)
	})

	t.Run("list by prefix", func(t *testing.T) {
		recs, err := store.List(ctx, "user:")
		require.NoError(t, err)
		require.Len(t, recs, 5)
		assert.Equal(t, storage.UserKey("additive"), recs[0].Key)
		for _, r := range recs {
			assert.NotEqual(t, storage.GlobalKey, r.Key)
		}
	})

	t.Run("live snapshot overwrites", func(t *testing.T) {
		live, err := store.Live(ctx)
		require.NoError(t, err)
		assert.Zero(t, live.ActivePositions)

		require.NoError(t, store.UpsertLive(ctx, storage.LiveSnapshot{ActivePositions: 2, Tokens: []string{"a", "b"}}))
		require.NoError(t, store.UpsertLive(ctx, storage.LiveSnapshot{ActivePositions: 1, Tokens: []string{"b"}}))

		live, err = store.Live(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, live.ActivePositions)
		assert.Equal(t, []string{"b"}, live.Tokens)
	})

	t.Run("snapshots newest first", func(t *testing.T) {
		require.NoError(t, store.SaveSnapshot(ctx, storage.Counters{TotalTrades: 1}))
		require.NoError(t, store.SaveSnapshot(ctx, storage.Counters{TotalTrades: 2}))
		require.NoError(t, store.SaveSnapshot(ctx, storage.Counters{TotalTrades: 3}))

		snaps, err := store.Snapshots(ctx, 2)
		require.NoError(t, err)
		require.Len(t, snaps, 2)
		assert.Equal(t, int64(3), snaps[0].TotalTrades)
		assert.Equal(t, int64(2), snaps[1].TotalTrades)
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, store.Ping(ctx))
	})
}
