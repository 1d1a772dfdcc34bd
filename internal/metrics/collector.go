package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rovshanmuradov/katz-bot/internal/breaker"
)

// stateCollector reads component state at scrape time.
type stateCollector struct {
	src Sources

	queueSize     *prometheus.Desc
	queueInFlight *prometheus.Desc
	queuePaused   *prometheus.Desc
	gasPrice      *prometheus.Desc
	breakerState  *prometheus.Desc
	breakerFails  *prometheus.Desc
	limitKeys     *prometheus.Desc
	openPositions *prometheus.Desc
	engineRunning *prometheus.Desc
	busPending    *prometheus.Desc
	busDropped    *prometheus.Desc
}

func newStateCollector(src Sources) *stateCollector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}
	return &stateCollector{
		src:           src,
		queueSize:     desc("queue_size", "Transactions waiting per network", "network"),
		queueInFlight: desc("queue_in_flight", "Transactions executing per network", "network"),
		queuePaused:   desc("queue_paused", "1 when the network queue is paused", "network"),
		gasPrice:      desc("gas_price", "Cached gas price per network", "network"),
		breakerState:  desc("breaker_state", "Circuit state: 0 closed, 1 open, 2 half-open", "breaker"),
		breakerFails:  desc("breaker_failures", "Consecutive failures counted by the breaker", "breaker"),
		limitKeys:     desc("ratelimit_keys", "Live rate limit windows per action", "action"),
		openPositions: desc("open_positions", "Positions tracked by the engine"),
		engineRunning: desc("engine_running", "1 while a FlipperMode session is running"),
		busPending:    desc("event_bus_pending", "Events waiting for dispatch"),
		busDropped:    desc("event_bus_dropped_total", "Events dropped because the buffer was full"),
	}
}

func (c *stateCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.queueSize, c.queueInFlight, c.queuePaused, c.gasPrice,
		c.breakerState, c.breakerFails, c.limitKeys,
		c.openPositions, c.engineRunning, c.busPending, c.busDropped,
	} {
		ch <- d
	}
}

func (c *stateCollector) Collect(ch chan<- prometheus.Metric) {
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}

	if c.src.Queue != nil {
		for _, st := range c.src.Queue.Statuses() {
			n := string(st.Network)
			gauge(c.queueSize, float64(st.Size), n)
			gauge(c.queueInFlight, float64(st.Pending), n)
			gauge(c.queuePaused, boolToFloat(st.Paused), n)
			if st.Gas.Available {
				gauge(c.gasPrice, st.Gas.Price, n)
			}
		}
	}
	if c.src.Breakers != nil {
		for _, s := range c.src.Breakers.States() {
			gauge(c.breakerState, stateValue(s.State), s.Name)
			gauge(c.breakerFails, float64(s.Failures), s.Name)
		}
	}
	if c.src.Limits != nil {
		for _, s := range c.src.Limits.Metrics() {
			gauge(c.limitKeys, float64(s.Keys), s.Action)
		}
	}
	if c.src.Engine != nil {
		st := c.src.Engine.Status()
		gauge(c.openPositions, float64(st.OpenPositions))
		gauge(c.engineRunning, boolToFloat(st.Running))
	}
	if c.src.Bus != nil {
		st := c.src.Bus.Stats()
		gauge(c.busPending, float64(st.Pending))
		ch <- prometheus.MustNewConstMetric(c.busDropped, prometheus.CounterValue, float64(st.Dropped))
	}
}

func stateValue(s string) float64 {
	switch s {
	case breaker.Open.String():
		return 1
	case breaker.HalfOpen.String():
		return 2
	}
	return 0
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
