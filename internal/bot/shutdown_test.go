package bot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestShutdownOrder(t *testing.T) {
	sh := NewShutdownHandler(zaptest.NewLogger(t), time.Second)

	var order []string
	for _, name := range []string{"bus", "store", "engine"} {
		sh.AddFunc(name, func() error {
			order = append(order, name)
			return nil
		})
	}

	require.NoError(t, sh.Shutdown(context.Background()))
	assert.Equal(t, []string{"engine", "store", "bus"}, order)

	require.NoError(t, sh.Shutdown(context.Background()))
	assert.Len(t, order, 3, "second shutdown must be a no-op")
}

func TestShutdownJoinsErrors(t *testing.T) {
	sh := NewShutdownHandler(zaptest.NewLogger(t), time.Second)

	errStore := errors.New("store failed")
	closed := false
	sh.AddFunc("bus", func() error {
		closed = true
		return nil
	})
	sh.AddFunc("store", func() error { return errStore })

	err := sh.Shutdown(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errStore)
	assert.Contains(t, err.Error(), "store")
	assert.True(t, closed, "a failing service must not stop the rest")
}

func TestShutdownTimeout(t *testing.T) {
	sh := NewShutdownHandler(zaptest.NewLogger(t), 20*time.Millisecond)

	release := make(chan struct{})
	defer close(release)
	closed := make(chan struct{})

	sh.AddFunc("first", func() error {
		close(closed)
		return nil
	})
	sh.AddFunc("stuck", func() error {
		<-release
		return nil
	})

	start := time.Now()
	err := sh.Shutdown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stuck: shutdown timeout")
	assert.Less(t, time.Since(start), time.Second)

	select {
	case <-closed:
	default:
		t.Fatal("service after the stuck one was not closed")
	}
}
