// Package breaker isolates failing dependencies behind named circuit breakers.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/katz-bot/internal/domain"
	"github.com/rovshanmuradov/katz-bot/internal/events"
)

// State of a circuit.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	}
	return "UNKNOWN"
}

// Config controls when a circuit opens and how it recovers.
type Config struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	ResetTimeout     time.Duration `mapstructure:"reset_timeout"`
	HalfOpenRetries  int           `mapstructure:"half_open_retries"`
	// RateLimitAction is checked when Execute is called without an action.
	RateLimitAction string `mapstructure:"rate_limit_action"`
}

// DefaultConfig returns 5 failures, 60s reset and 3 half-open retries.
func DefaultConfig() Config {
	return Config{FailureThreshold: 5, ResetTimeout: time.Minute, HalfOpenRetries: 3}
}

// Validate checks the numeric constraints of a config.
func (c Config) Validate() error {
	if c.FailureThreshold < 1 {
		return errors.New("failure_threshold must be >= 1")
	}
	if c.ResetTimeout < 0 {
		return errors.New("reset_timeout must be >= 0")
	}
	if c.HalfOpenRetries < 1 {
		return errors.New("half_open_retries must be >= 1")
	}
	return nil
}

// Limiter is the rate-limit pre-check consulted before the state machine.
type Limiter interface {
	IsRateLimited(ctx context.Context, userID, action string) bool
}

// Snapshot is a read-only copy of a breaker's counters.
type Snapshot struct {
	Name            string    `json:"name"`
	State           string    `json:"state"`
	Failures        int       `json:"failures"`
	HalfOpenRetries int       `json:"half_open_retries"`
	LastFailure     time.Time `json:"last_failure,omitempty"`
	Probing         bool      `json:"probing"`
}

// Breaker guards one named dependency.
//
// HALF_OPEN admits a single probe at a time: calls arriving while a probe is
// in flight fail fast with domain.ErrCircuitOpen.
type Breaker struct {
	name    string
	cfg     Config
	limiter Limiter
	bus     events.Publisher
	logger  *zap.Logger
	now     func() time.Time

	mu          sync.Mutex
	state       State
	failures    int
	retries     int
	lastFailure time.Time
	probing     bool
}

// New creates a closed breaker. limiter and bus may be nil.
func New(name string, cfg Config, limiter Limiter, bus events.Publisher, logger *zap.Logger) *Breaker {
	if bus == nil {
		bus = events.Nop{}
	}
	return &Breaker{
		name:    name,
		cfg:     cfg,
		limiter: limiter,
		bus:     bus,
		logger:  logger.Named("breaker").With(zap.String("breaker", name)),
		now:     time.Now,
	}
}

// Name returns the dependency name.
func (b *Breaker) Name() string { return b.name }

// Execute runs fn under the breaker. The rate-limit pre-check for
// (userID, action) rejects before any breaker bookkeeping. Errors returned
// by fn are passed through unchanged after they are counted.
func (b *Breaker) Execute(ctx context.Context, userID, action string, fn func(ctx context.Context) error) error {
	if err := b.checkRateLimit(ctx, userID, action); err != nil {
		return err
	}

	probe, err := b.admit()
	if err != nil {
		return err
	}

	err = fn(ctx)
	b.record(probe, err)
	return err
}

// Do is Execute for operations that return a value.
func Do[T any](ctx context.Context, b *Breaker, userID, action string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := b.Execute(ctx, userID, action, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func (b *Breaker) checkRateLimit(ctx context.Context, userID, action string) error {
	if action == "" {
		action = b.cfg.RateLimitAction
	}
	if b.limiter == nil || action == "" {
		return nil
	}
	if b.limiter.IsRateLimited(ctx, userID, action) {
		b.logger.Warn("Rate limit exceeded",
			zap.String("user_id", userID),
			zap.String("action", action))
		return &domain.Error{
			Code:    domain.CodeRateLimit,
			Op:      b.name,
			Err:     domain.ErrRateLimitExceeded,
			Details: map[string]any{"user_id": userID, "action": action},
		}
	}
	return nil
}

// admit decides whether a call may run and reports whether it is the
// half-open probe.
func (b *Breaker) admit() (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		if b.now().Sub(b.lastFailure) < b.cfg.ResetTimeout {
			return false, b.openError()
		}
		b.state = HalfOpen
		if b.retries >= b.cfg.HalfOpenRetries {
			b.retries = 0
		}
		b.logger.Info("Circuit breaker moving to HALF_OPEN state")
		b.probing = true
		return true, nil
	case HalfOpen:
		if b.probing {
			return false, b.openError()
		}
		b.probing = true
		return true, nil
	}
	return false, nil
}

func (b *Breaker) openError() error {
	return &domain.Error{
		Code:    domain.CodeCircuitOpen,
		Op:      b.name,
		Err:     domain.ErrCircuitOpen,
		Details: map[string]any{"state": b.state.String()},
	}
}

func (b *Breaker) record(probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probe {
		b.probing = false
	}

	// Caller cancellation says nothing about the dependency.
	if err != nil && errors.Is(err, context.Canceled) {
		return
	}

	if err == nil {
		if probe || b.state == Closed {
			b.failures = 0
			b.retries = 0
		}
		if probe && b.state == HalfOpen {
			b.state = Closed
			b.logger.Info("Circuit breaker CLOSED")
			b.publish(events.BreakerClosed, nil)
		}
		return
	}

	b.failures++
	b.lastFailure = b.now()

	switch {
	case probe && b.state == HalfOpen:
		b.retries++
		if b.retries >= b.cfg.HalfOpenRetries {
			b.trip(err)
		}
	case b.state == Closed && b.failures >= b.cfg.FailureThreshold:
		b.trip(err)
	}
}

func (b *Breaker) trip(err error) {
	b.state = Open
	b.logger.Warn("Circuit breaker moved to OPEN state",
		zap.Int("failures", b.failures),
		zap.Int("half_open_retries", b.retries),
		zap.Error(err))
	b.publish(events.BreakerOpened, err)
}

func (b *Breaker) publish(t events.Type, err error) {
	_ = b.bus.Publish(events.BreakerEvent{
		Base:     events.NewBase(t),
		Name:     b.name,
		State:    b.state.String(),
		Failures: b.failures,
		Err:      err,
	})
}

// Snapshot returns the current counters.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Name:            b.name,
		State:           b.state.String(),
		Failures:        b.failures,
		HalfOpenRetries: b.retries,
		LastFailure:     b.lastFailure,
		Probing:         b.probing,
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the circuit closed and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failures = 0
	b.retries = 0
	b.lastFailure = time.Time{}
	b.probing = false
	b.logger.Info("Circuit breaker RESET to CLOSED state")
	b.publish(events.BreakerReset, nil)
}

func (b *Breaker) String() string {
	s := b.Snapshot()
	return fmt.Sprintf("%s[%s failures=%d retries=%d]", s.Name, s.State, s.Failures, s.HalfOpenRetries)
}
