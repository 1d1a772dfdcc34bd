// Package ratelimit implements per-(user, action) sliding window limits.
//
// Limiters fail open: when the backing store errors, the request is allowed
// and the error is logged. Availability wins over strict enforcement.
package ratelimit

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/katz-bot/internal/events"
)

// Well-known actions.
const (
	ActionMessages = "messages"
	ActionTrades   = "trades"
	ActionAlerts   = "alerts"
	ActionScans    = "scans"
)

// Config is a window length and the number of requests allowed in it.
type Config struct {
	Window time.Duration `mapstructure:"window"`
	Max    int           `mapstructure:"max"`
}

// Validate checks that both fields are positive.
func (c Config) Validate() error {
	if c.Window <= 0 {
		return errors.New("window must be positive")
	}
	if c.Max <= 0 {
		return errors.New("max must be positive")
	}
	return nil
}

// DefaultConfigs returns the built-in limits per action.
func DefaultConfigs() map[string]Config {
	return map[string]Config{
		ActionMessages: {Window: time.Minute, Max: 3000},
		ActionTrades:   {Window: 5 * time.Minute, Max: 1000},
		ActionAlerts:   {Window: time.Minute, Max: 1000},
		ActionScans:    {Window: time.Minute, Max: 1000},
	}
}

// Limiter enforces one Config over many keys.
type Limiter struct {
	action string
	cfg    Config
	store  Store
	bus    events.Publisher
	logger *zap.Logger
	now    func() time.Time

	mu        sync.Mutex
	rejected  uint64
	storeErrs uint64
}

// NewLimiter creates a limiter for action. A nil store uses MemoryStore.
func NewLimiter(action string, cfg Config, store Store, bus events.Publisher, logger *zap.Logger) *Limiter {
	if store == nil {
		store = NewMemoryStore()
	}
	if bus == nil {
		bus = events.Nop{}
	}
	return &Limiter{
		action: action,
		cfg:    cfg,
		store:  store,
		bus:    bus,
		logger: logger.Named("ratelimit").With(zap.String("action", action)),
		now:    time.Now,
	}
}

// IsRateLimited reports whether the request must be rejected. Rejected
// requests are not recorded in the window.
func (l *Limiter) IsRateLimited(ctx context.Context, userID string) bool {
	admitted, err := l.store.Admit(ctx, userID+":"+l.action, l.now(), l.cfg.Window, l.cfg.Max)
	if err != nil {
		l.mu.Lock()
		l.storeErrs++
		l.mu.Unlock()
		l.logger.Error("Rate limit check failed, allowing request",
			zap.String("user_id", userID),
			zap.Error(err))
		return false
	}
	if admitted {
		return false
	}

	l.mu.Lock()
	l.rejected++
	l.mu.Unlock()
	l.logger.Warn("User exceeded rate limit", zap.String("user_id", userID))
	_ = l.bus.Publish(events.RateLimitEvent{
		Base:   events.NewBase(events.RateLimited),
		UserID: userID,
		Action: l.action,
	})
	return true
}

// Compact drops fully expired keys.
func (l *Limiter) Compact(ctx context.Context) (int, error) {
	return l.store.Compact(ctx, l.now(), l.cfg.Window)
}

// Stats describes one limiter.
type Stats struct {
	Action      string        `json:"action"`
	Window      time.Duration `json:"window"`
	Max         int           `json:"max"`
	Keys        int           `json:"keys"`
	Rejected    uint64        `json:"rejected"`
	StoreErrors uint64        `json:"store_errors"`
}

// Stats returns the limiter's counters.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{
		Action:      l.action,
		Window:      l.cfg.Window,
		Max:         l.cfg.Max,
		Keys:        l.store.Len(),
		Rejected:    l.rejected,
		StoreErrors: l.storeErrs,
	}
}

// Registry routes checks to the limiter configured for each action.
type Registry struct {
	limiters map[string]*Limiter
	logger   *zap.Logger
}

// NewRegistry builds one limiter per action. configs override DefaultConfigs.
func NewRegistry(configs map[string]Config, bus events.Publisher, logger *zap.Logger) *Registry {
	merged := DefaultConfigs()
	for action, cfg := range configs {
		merged[action] = cfg
	}
	r := &Registry{
		limiters: make(map[string]*Limiter, len(merged)),
		logger:   logger.Named("ratelimit"),
	}
	for action, cfg := range merged {
		r.limiters[action] = NewLimiter(action, cfg, nil, bus, logger)
	}
	return r
}

// Limiter returns the limiter for action, or nil.
func (r *Registry) Limiter(action string) *Limiter {
	return r.limiters[action]
}

// IsRateLimited checks (userID, action). Unknown actions are never limited.
func (r *Registry) IsRateLimited(ctx context.Context, userID, action string) bool {
	l, ok := r.limiters[action]
	if !ok {
		r.logger.Warn("Unknown rate limit action, not limiting", zap.String("action", action))
		return false
	}
	return l.IsRateLimited(ctx, userID)
}

// Compact runs one compaction pass over every limiter.
func (r *Registry) Compact(ctx context.Context) int {
	total := 0
	for action, l := range r.limiters {
		n, err := l.Compact(ctx)
		if err != nil {
			r.logger.Error("Rate limit cleanup failed", zap.String("action", action), zap.Error(err))
			continue
		}
		total += n
	}
	return total
}

// Run compacts on every interval tick until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Compact(ctx); n > 0 {
				r.logger.Debug("Rate limit cleanup completed", zap.Int("removed_keys", n))
			}
		}
	}
}

// Metrics returns per-action stats sorted by action.
func (r *Registry) Metrics() []Stats {
	out := make([]Stats, 0, len(r.limiters))
	for _, l := range r.limiters {
		out = append(out, l.Stats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Action < out[j].Action })
	return out
}
