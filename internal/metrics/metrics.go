// internal/metrics/metrics.go
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rovshanmuradov/katz-bot/internal/breaker"
	"github.com/rovshanmuradov/katz-bot/internal/events"
	"github.com/rovshanmuradov/katz-bot/internal/flipper"
	"github.com/rovshanmuradov/katz-bot/internal/queue"
	"github.com/rovshanmuradov/katz-bot/internal/ratelimit"
)

const namespace = "katz"

// Sources are read on every scrape. Nil sources are skipped.
type Sources struct {
	Queue    interface{ Statuses() []queue.NetworkStatus }
	Breakers interface{ States() []breaker.Snapshot }
	Limits   interface{ Metrics() []ratelimit.Stats }
	Engine   interface{ Status() flipper.Status }
	Bus      interface{ Stats() events.Stats }
}

// Metrics owns a private registry with the event-driven counters and a
// collector over Sources.
type Metrics struct {
	registry *prometheus.Registry

	transactions   *prometheus.CounterVec
	positionsOpen  prometheus.Counter
	exits          *prometheus.CounterVec
	closeFailures  prometheus.Counter
	tokensRejected *prometheus.CounterVec
	breakerEvents  *prometheus.CounterVec
	rateLimited    *prometheus.CounterVec
	tradePnL       prometheus.Histogram
	alerts         *prometheus.CounterVec
}

// New registers every collector.
func New(src Sources) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		transactions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transactions_total",
				Help:      "Queued transactions by terminal status",
			},
			[]string{"network", "type", "status"},
		),
		positionsOpen: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "positions_opened_total",
			Help:      "Positions opened by the engine",
		}),
		exits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "position_exits_total",
				Help:      "Closed positions split by exit reason",
			},
			[]string{"reason"},
		),
		closeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "position_close_failures_total",
			Help:      "Close attempts that failed",
		}),
		tokensRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tokens_rejected_total",
				Help:      "Candidate tokens dropped by the intake filter",
			},
			[]string{"reason"},
		),
		breakerEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "breaker_transitions_total",
				Help:      "Circuit breaker transitions",
			},
			[]string{"breaker", "event"},
		),
		rateLimited: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limited_total",
				Help:      "Requests rejected by the rate limiter",
			},
			[]string{"action"},
		),
		tradePnL: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "trade_pnl_percent",
			Help:      "P/L of closed positions in percent",
			Buckets:   prometheus.LinearBuckets(-50, 10, 12),
		}),
		alerts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alerts_total",
				Help:      "Critical alerts raised",
			},
			[]string{"component"},
		),
	}

	m.registry.MustRegister(
		m.transactions,
		m.positionsOpen,
		m.exits,
		m.closeFailures,
		m.tokensRejected,
		m.breakerEvents,
		m.rateLimited,
		m.tradePnL,
		m.alerts,
		newStateCollector(src),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Types are the bus events Handle consumes.
var Types = []events.Type{
	events.TxCompleted, events.TxFailed,
	events.PositionOpened, events.PositionClosed, events.PositionCloseFailed,
	events.TokenRejected,
	events.BreakerOpened, events.BreakerClosed, events.BreakerReset,
	events.RateLimited,
	events.CriticalAlert,
}

// Handle implements events.Handler.
func (m *Metrics) Handle(_ context.Context, ev events.Event) error {
	switch e := ev.(type) {
	case events.TxEvent:
		status := string(queue.StatusComplete)
		if e.Type() == events.TxFailed {
			status = string(queue.StatusFailed)
		}
		m.transactions.WithLabelValues(string(e.Network), string(e.Action), status).Inc()
	case events.PositionEvent:
		switch e.Type() {
		case events.PositionOpened:
			m.positionsOpen.Inc()
		case events.PositionClosed:
			m.exits.WithLabelValues(e.Reason).Inc()
			m.tradePnL.Observe(e.ProfitLossPct)
		case events.PositionCloseFailed:
			m.closeFailures.Inc()
		}
	case events.TokenEvent:
		m.tokensRejected.WithLabelValues(e.Reason).Inc()
	case events.BreakerEvent:
		m.breakerEvents.WithLabelValues(e.Name, string(e.Type())).Inc()
	case events.RateLimitEvent:
		m.rateLimited.WithLabelValues(e.Action).Inc()
	case events.AlertEvent:
		m.alerts.WithLabelValues(e.Component).Inc()
	}
	return nil
}

// Attach subscribes m to Types on bus.
func (m *Metrics) Attach(bus *events.Bus) events.Subscription {
	return bus.Subscribe(m, Types...)
}

// Registry exposes the registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the text exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
