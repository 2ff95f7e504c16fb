// Package metrics exposes Prometheus collectors for import polling and
// backend traffic.
package metrics

import (
	"time"

	"github.com/JonMunkholm/importdesk/internal/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "importdesk"

var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05,
	0.1, 0.25, 0.5,
	1, 2.5, 5, 10, 30,
}

// Collectors implements core.Observer and provides a gateway.ObserveFunc.
type Collectors struct {
	pollTicks      *prometheus.CounterVec
	pollDuration   *prometheus.HistogramVec
	terminals      *prometheus.CounterVec
	activePollers  prometheus.Gauge
	gatewayLatency *prometheus.HistogramVec
}

var _ core.Observer = (*Collectors)(nil)

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Collectors {
	f := promauto.With(reg)
	return &Collectors{
		pollTicks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_ticks_total",
			Help:      "Total number of import status poll ticks.",
		}, []string{"outcome"}),
		pollDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_tick_duration_seconds",
			Help:      "Latency distribution for one poll tick.",
			Buckets:   latencyBuckets,
		}, []string{"outcome"}),
		terminals: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "terminal_observed_total",
			Help:      "Import runs observed reaching a terminal status.",
		}, []string{"status"}),
		activePollers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_pollers",
			Help:      "Current number of running status pollers.",
		}),
		gatewayLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_request_duration_seconds",
			Help:      "Latency distribution for document backend requests.",
			Buckets:   latencyBuckets,
		}, []string{"method", "outcome"}),
	}
}

func (c *Collectors) PollTick(outcome string, elapsed time.Duration) {
	c.pollTicks.WithLabelValues(outcome).Inc()
	c.pollDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

func (c *Collectors) PollerStarted() { c.activePollers.Inc() }

func (c *Collectors) PollerStopped() { c.activePollers.Dec() }

func (c *Collectors) TerminalObserved(status core.Status) {
	c.terminals.WithLabelValues(string(status)).Inc()
}

// ObserveGateway matches gateway.ObserveFunc.
func (c *Collectors) ObserveGateway(method, outcome string, elapsed time.Duration) {
	c.gatewayLatency.WithLabelValues(method, outcome).Observe(elapsed.Seconds())
}
