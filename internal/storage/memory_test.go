package storage_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rovshanmuradov/katz-bot/internal/storage"
	"github.com/rovshanmuradov/katz-bot/internal/storage/storagetest"
)

func TestMemory(t *testing.T) {
	storagetest.Run(t, storage.NewMemory())
}

func TestCountersDerived(t *testing.T) {
	c := storage.Counters{TotalTrades: 4, ProfitableTrades: 3, TotalProfit: 20, TotalHoldMinutes: 10}
	assert.Equal(t, 75.0, c.WinRate())
	assert.Equal(t, 5.0, c.AvgProfit())
	assert.Equal(t, 2.5, c.AvgHoldMinutes())

	var zero storage.Counters
	assert.Zero(t, zero.WinRate())
	assert.Zero(t, zero.AvgProfit())
	assert.Zero(t, zero.AvgHoldMinutes())
}
