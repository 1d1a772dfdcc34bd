package flipper

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/katz-bot/internal/domain"
)

func TestMonitorConfigMerge(t *testing.T) {
	base := DefaultMonitorConfig()
	merged := base.Merge(MonitorConfig{MaxPositions: 5, BuyAmount: decimal.RequireFromString("0.2")})

	assert.Equal(t, 5, merged.MaxPositions)
	assert.True(t, merged.BuyAmount.Equal(decimal.RequireFromString("0.2")))
	assert.Equal(t, base.ProfitTarget, merged.ProfitTarget)
	assert.Equal(t, base.TimeLimit, merged.TimeLimit)
	assert.True(t, merged.RequiredBalance().Equal(decimal.RequireFromString("1.05")))
}

func TestMonitorConfigValidate(t *testing.T) {
	require.NoError(t, DefaultMonitorConfig().Validate())

	bad := []func(*MonitorConfig){
		func(c *MonitorConfig) { c.MaxPositions = 0 },
		func(c *MonitorConfig) { c.ProfitTarget = 0 },
		func(c *MonitorConfig) { c.StopLoss = 101 },
		func(c *MonitorConfig) { c.TimeLimit = 0 },
		func(c *MonitorConfig) { c.BuyAmount = decimal.Zero },
		func(c *MonitorConfig) { c.GasBuffer = decimal.NewFromInt(-1) },
		func(c *MonitorConfig) { c.MinHolders = -1 },
	}
	for i, mutate := range bad {
		c := DefaultMonitorConfig()
		mutate(&c)
		assert.Error(t, c.Validate(), "case %d", i)
	}
}

func TestIntakeInterval(t *testing.T) {
	c := DefaultIntakeConfig()
	assert.Equal(t, 500*time.Millisecond, c.Interval(0))
	assert.Equal(t, time.Second, c.Interval(10))
	assert.Equal(t, 2*time.Second, c.Interval(30))
	assert.Equal(t, 2*time.Second, c.Interval(1000))
}

func TestIntakeClearRejectsQueued(t *testing.T) {
	in := newIntake(IntakeConfig{Base: time.Hour}, zaptest.NewLogger(t))

	first, err := in.add(candidate("A"))
	require.NoError(t, err)
	second, err := in.add(candidate("B"))
	require.NoError(t, err)
	assert.Equal(t, 2, in.size())

	assert.Equal(t, 2, in.clear(domain.ErrEngineStopped))
	assert.ErrorIs(t, <-first.done, domain.ErrEngineStopped)
	assert.ErrorIs(t, <-second.done, domain.ErrEngineStopped)

	_, err = in.add(candidate("C"))
	assert.ErrorIs(t, err, domain.ErrEngineStopped)
}

func TestIntakeRunsSerially(t *testing.T) {
	in := newIntake(IntakeConfig{}, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var order []string
	done := make(chan struct{})
	go func() {
		defer close(done)
		in.run(ctx, func(_ context.Context, token domain.TokenCandidate) error {
			order = append(order, token.Address)
			return nil
		})
	}()

	var jobs []*intakeJob
	for _, addr := range []string{"A", "B", "C"} {
		job, err := in.add(candidate(addr))
		require.NoError(t, err)
		jobs = append(jobs, job)
	}
	for _, job := range jobs {
		require.NoError(t, <-job.done)
	}

	in.clear(domain.ErrEngineStopped)
	<-done
	assert.Equal(t, []string{"A", "B", "C"}, order)
}
