package logger

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBufferConcurrentAccess(t *testing.T) {
	buffer := NewBuffer(100)

	var wg sync.WaitGroup
	numGoroutines := 10
	logsPerGoroutine := 100

	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < logsPerGoroutine; j++ {
				line := fmt.Sprintf(`{"level":"info","msg":"goroutine %d iteration %d","n":%d}`, id, j, j)
				_, err := buffer.Write([]byte(line))
				assert.NoError(t, err)
			}
		}(i)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			_ = buffer.Recent(10)
			_, _ = buffer.Stats()
		}
	}()

	wg.Wait()
	<-done

	total, invalid := buffer.Stats()
	assert.Equal(t, uint64(numGoroutines*logsPerGoroutine), total)
	assert.Zero(t, invalid)
	assert.Len(t, buffer.Recent(0), 100)
}

func TestBufferRingBehavior(t *testing.T) {
	buffer := NewBuffer(5)
	for i := 0; i < 10; i++ {
		_, _ = buffer.Write([]byte(fmt.Sprintf(`{"level":"info","msg":"Log %d"}`, i)))
	}

	logs := buffer.Recent(10)
	require.Len(t, logs, 5)
	assert.Equal(t, "Log 5", logs[0].Message)
	assert.Equal(t, "Log 9", logs[4].Message)

	last := buffer.Recent(2)
	require.Len(t, last, 2)
	assert.Equal(t, "Log 8", last[0].Message)
	assert.Equal(t, "Log 9", last[1].Message)
}

func TestBufferPartialRing(t *testing.T) {
	buffer := NewBuffer(5)
	for i := 0; i < 3; i++ {
		_, _ = buffer.Write([]byte(fmt.Sprintf(`{"msg":"Log %d"}`, i)))
	}

	logs := buffer.Recent(2)
	require.Len(t, logs, 2)
	assert.Equal(t, "Log 1", logs[0].Message)
	assert.Equal(t, "Log 2", logs[1].Message)
}

func TestBufferKeepsUndecodableLines(t *testing.T) {
	buffer := NewBuffer(2)
	_, _ = buffer.Write([]byte("not json"))

	logs := buffer.Recent(0)
	require.Len(t, logs, 1)
	assert.Equal(t, "not json", logs[0].Message)

	_, invalid := buffer.Stats()
	assert.Equal(t, uint64(1), invalid)
}

func TestLoggerWritesToBuffer(t *testing.T) {
	buffer := NewBuffer(10)
	l, err := New(Config{File: filepath.Join(t.TempDir(), "katz.log"), MaxSize: 1, Quiet: true}, buffer)
	require.NoError(t, err)
	defer l.Close()

	l.WithComponent("queue").Info("Transaction queued", zap.String("tx_id", "abc"))

	logs := buffer.Recent(0)
	require.Len(t, logs, 1)
	assert.Equal(t, "Transaction queued", logs[0].Message)
	assert.Equal(t, "info", logs[0].Level)
	assert.Equal(t, "queue", logs[0].Logger)
	assert.Equal(t, "abc", logs[0].Fields["tx_id"])
}

func TestLoggerNeedsSink(t *testing.T) {
	_, err := New(Config{Quiet: true}, nil)
	assert.Error(t, err)
}

func TestShortenAddress(t *testing.T) {
	assert.Equal(t, "So11...1112", ShortenAddress("So11111111111111111111111111111111111111112"))
	assert.Equal(t, "short", ShortenAddress("short"))
}
