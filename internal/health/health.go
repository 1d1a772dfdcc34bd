// Package health runs named dependency checks and serves the result.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rovshanmuradov/katz-bot/internal/events"
)

// Check probes one dependency.
type Check func(ctx context.Context) error

// Result is the outcome of one check.
type Result struct {
	Name     string        `json:"name"`
	Healthy  bool          `json:"healthy"`
	Critical bool          `json:"critical"`
	Error    string        `json:"error,omitempty"`
	Latency  time.Duration `json:"latency"`
}

// Report is one round of checks.
type Report struct {
	Healthy bool      `json:"healthy"`
	Checks  []Result  `json:"checks"`
	Time    time.Time `json:"time"`
}

// Failing returns the names of the failed checks.
func (r Report) Failing(criticalOnly bool) []string {
	var out []string
	for _, c := range r.Checks {
		if !c.Healthy && (c.Critical || !criticalOnly) {
			out = append(out, c.Name)
		}
	}
	return out
}

type registration struct {
	check    Check
	critical bool
}

// Monitor owns the registered checks and the last report.
type Monitor struct {
	timeout time.Duration
	bus     events.Publisher
	logger  *zap.Logger

	mu     sync.RWMutex
	checks map[string]registration
	last   Report
}

// New creates a monitor. Each check gets timeout to finish.
func New(timeout time.Duration, bus events.Publisher, logger *zap.Logger) *Monitor {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if bus == nil {
		bus = events.Nop{}
	}
	return &Monitor{
		timeout: timeout,
		bus:     bus,
		logger:  logger.Named("health"),
		checks:  make(map[string]registration),
	}
}

// Register adds or replaces a check. A failing critical check makes the
// whole report unhealthy.
func (m *Monitor) Register(name string, critical bool, check Check) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = registration{check: check, critical: critical}
}

// Check runs every check concurrently.
func (m *Monitor) Check(ctx context.Context) Report {
	m.mu.RLock()
	names := make([]string, 0, len(m.checks))
	for name := range m.checks {
		names = append(names, name)
	}
	regs := make(map[string]registration, len(m.checks))
	for k, v := range m.checks {
		regs[k] = v
	}
	m.mu.RUnlock()
	sort.Strings(names)

	results := make([]Result, len(names))
	var g errgroup.Group
	for i, name := range names {
		reg := regs[name]
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, m.timeout)
			defer cancel()

			start := time.Now()
			err := reg.check(cctx)
			res := Result{Name: name, Healthy: err == nil, Critical: reg.critical, Latency: time.Since(start)}
			if err != nil {
				res.Error = err.Error()
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	report := Report{Healthy: true, Checks: results, Time: time.Now()}
	for _, r := range results {
		if !r.Healthy && r.Critical {
			report.Healthy = false
		}
	}

	m.mu.Lock()
	m.last = report
	m.mu.Unlock()
	return report
}

// Last returns the most recent report.
func (m *Monitor) Last() Report {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// Run checks on every interval and publishes the results until ctx ends.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.round(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.round(ctx)
		}
	}
}

func (m *Monitor) round(ctx context.Context) {
	report := m.Check(ctx)

	statuses := make(map[string]string, len(report.Checks))
	for _, c := range report.Checks {
		if c.Healthy {
			statuses[c.Name] = "ok"
		} else {
			statuses[c.Name] = c.Error
		}
	}
	failing := report.Failing(false)
	_ = m.bus.Publish(events.HealthEvent{
		Base:    events.NewBase(events.HealthChecked),
		Results: statuses,
		Failing: failing,
	})

	if !report.Healthy {
		critical := report.Failing(true)
		m.logger.Error("Critical health checks failing", zap.Strings("checks", critical))
		_ = m.bus.Publish(events.HealthEvent{
			Base:    events.NewBase(events.HealthCritical),
			Results: statuses,
			Failing: critical,
		})
	} else if len(failing) > 0 {
		m.logger.Warn("Health checks failing", zap.Strings("checks", failing))
	}
}

// Handler serves the last report as JSON, running a fresh round when none
// exists yet. Unhealthy reports get 503.
func (m *Monitor) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		report := m.Last()
		if report.Time.IsZero() {
			report = m.Check(r.Context())
		}

		w.Header().Set("Content-Type", "application/json")
		if !report.Healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(report); err != nil {
			m.logger.Warn("Failed to write health report", zap.Error(err))
		}
	})
}
