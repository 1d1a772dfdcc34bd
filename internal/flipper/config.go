package flipper

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rovshanmuradov/katz-bot/internal/domain"
)

// MonitorConfig holds the entry filter and exit rules of a run.
type MonitorConfig struct {
	// MinLiquidity is in the network's native token.
	MinLiquidity float64
	MinHolders   int
	MaxPositions int
	// ProfitTarget and StopLoss are percentages.
	ProfitTarget float64
	StopLoss     float64
	TimeLimit    time.Duration
	GasBuffer    decimal.Decimal
	BuyAmount    decimal.Decimal
}

// DefaultMonitorConfig returns the stock FlipperMode settings.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		MinLiquidity: 5,
		MinHolders:   100,
		MaxPositions: 3,
		ProfitTarget: 30,
		StopLoss:     15,
		TimeLimit:    15 * time.Minute,
		GasBuffer:    decimal.RequireFromString("0.01"),
		BuyAmount:    decimal.RequireFromString("0.1"),
	}
}

// Validate checks that a merged config is usable.
func (c MonitorConfig) Validate() error {
	switch {
	case c.MinLiquidity < 0:
		return errors.New("min_liquidity must be >= 0")
	case c.MinHolders < 0:
		return errors.New("min_holders must be >= 0")
	case c.MaxPositions < 1:
		return errors.New("max_positions must be >= 1")
	case c.ProfitTarget <= 0:
		return errors.New("profit_target must be > 0")
	case c.StopLoss <= 0 || c.StopLoss > 100:
		return errors.New("stop_loss must be in (0, 100]")
	case c.TimeLimit <= 0:
		return errors.New("time_limit must be > 0")
	case c.GasBuffer.IsNegative():
		return errors.New("gas_buffer must be >= 0")
	case !c.BuyAmount.IsPositive():
		return errors.New("buy_amount must be > 0")
	}
	return nil
}

// Merge returns c with every non-zero field of override applied.
func (c MonitorConfig) Merge(override MonitorConfig) MonitorConfig {
	if override.MinLiquidity != 0 {
		c.MinLiquidity = override.MinLiquidity
	}
	if override.MinHolders != 0 {
		c.MinHolders = override.MinHolders
	}
	if override.MaxPositions != 0 {
		c.MaxPositions = override.MaxPositions
	}
	if override.ProfitTarget != 0 {
		c.ProfitTarget = override.ProfitTarget
	}
	if override.StopLoss != 0 {
		c.StopLoss = override.StopLoss
	}
	if override.TimeLimit != 0 {
		c.TimeLimit = override.TimeLimit
	}
	if !override.GasBuffer.IsZero() {
		c.GasBuffer = override.GasBuffer
	}
	if !override.BuyAmount.IsZero() {
		c.BuyAmount = override.BuyAmount
	}
	return c
}

// RequiredBalance is what the wallet must hold to fill every slot.
func (c MonitorConfig) RequiredBalance() decimal.Decimal {
	return c.BuyAmount.Add(c.GasBuffer).Mul(decimal.NewFromInt(int64(c.MaxPositions)))
}

// IntakeConfig paces the intake queue. The spacing between accepted tokens
// is Base plus Step per queued token, capped at Max.
type IntakeConfig struct {
	Base time.Duration
	Step time.Duration
	Max  time.Duration
}

// DefaultIntakeConfig returns 500ms + 50ms per queued token, capped at 2s.
func DefaultIntakeConfig() IntakeConfig {
	return IntakeConfig{Base: 500 * time.Millisecond, Step: 50 * time.Millisecond, Max: 2 * time.Second}
}

// Interval returns the spacing for a backlog of queued tokens.
func (c IntakeConfig) Interval(queued int) time.Duration {
	d := c.Base + time.Duration(queued)*c.Step
	if c.Max > 0 && d > c.Max {
		d = c.Max
	}
	return d
}

// Config is everything an Engine needs besides its collaborators.
type Config struct {
	Monitor MonitorConfig
	Intake  IntakeConfig
	// Network is the only network the engine trades on.
	Network domain.Network
	// SnapshotInterval is how often the global aggregate is copied into the
	// store's snapshot history while running. Zero disables it.
	SnapshotInterval time.Duration
}

// DefaultConfig trades on Solana with a snapshot every 10 minutes.
func DefaultConfig() Config {
	return Config{
		Monitor:          DefaultMonitorConfig(),
		Intake:           DefaultIntakeConfig(),
		Network:          domain.NetworkSolana,
		SnapshotInterval: 10 * time.Minute,
	}
}
