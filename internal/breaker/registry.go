package breaker

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/katz-bot/internal/events"
)

// Well-known dependency names.
const (
	PumpFun  = "pumpfun"
	DexTools = "dextools"
	OpenAI   = "openai"
)

// DefaultConfigs returns the built-in per-dependency tuning.
func DefaultConfigs() map[string]Config {
	return map[string]Config{
		DexTools: {FailureThreshold: 8, ResetTimeout: 60 * time.Second, HalfOpenRetries: 3},
		OpenAI:   {FailureThreshold: 7, ResetTimeout: 20 * time.Second, HalfOpenRetries: 3},
		PumpFun:  {FailureThreshold: 10, ResetTimeout: 5 * time.Second, HalfOpenRetries: 3},
	}
}

// Registry owns one breaker per dependency name for the process lifetime.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	configs  map[string]Config
	fallback Config
	limiter  Limiter
	bus      events.Publisher
	logger   *zap.Logger
}

// NewRegistry creates a registry. configs override DefaultConfigs by name;
// names without a config use DefaultConfig.
func NewRegistry(configs map[string]Config, limiter Limiter, bus events.Publisher, logger *zap.Logger) *Registry {
	merged := DefaultConfigs()
	for name, cfg := range configs {
		merged[name] = cfg
	}
	return &Registry{
		breakers: make(map[string]*Breaker),
		configs:  merged,
		fallback: DefaultConfig(),
		limiter:  limiter,
		bus:      bus,
		logger:   logger,
	}
}

// Get returns the breaker for name, creating it on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[name]; ok {
		return b
	}
	cfg, ok := r.configs[name]
	if !ok {
		cfg = r.fallback
	}
	b := New(name, cfg, r.limiter, r.bus, r.logger)
	r.breakers[name] = b
	return b
}

// Execute runs fn under the named breaker.
func (r *Registry) Execute(ctx context.Context, name, userID, action string, fn func(ctx context.Context) error) error {
	return r.Get(name).Execute(ctx, userID, action, fn)
}

// States returns a snapshot of every breaker created so far, sorted by name.
func (r *Registry) States() []Snapshot {
	r.mu.Lock()
	list := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		list = append(list, b)
	}
	r.mu.Unlock()

	out := make([]Snapshot, 0, len(list))
	for _, b := range list {
		out = append(out, b.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Reset closes the named breaker; unknown names are a no-op.
func (r *Registry) Reset(name string) bool {
	r.mu.Lock()
	b, ok := r.breakers[name]
	r.mu.Unlock()
	if ok {
		b.Reset()
	}
	return ok
}
