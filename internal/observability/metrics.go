package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// BridgeCollector bundles Prometheus metrics for the gateway surface and
// the live simulation scenario, and provides a ready-to-serve /metrics
// handler.
type BridgeCollector struct {
	gatherer prometheus.Gatherer

	RPCRequests  *prometheus.CounterVec
	RPCDurations *prometheus.HistogramVec

	ScenarioVMs     prometheus.Gauge
	ScenarioFlows   prometheus.Gauge
	ScenarioLinks   prometheus.Gauge
	SimClockSeconds prometheus.Gauge
}

// NewBridgeCollector registers bridge Prometheus metrics against the
// provided registerer, defaulting to the global Prometheus registry when
// nil.
func NewBridgeCollector(reg prometheus.Registerer) (*BridgeCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_requests_total",
		Help: "Total number of handled gateway operations, labeled by op and outcome status.",
	}, []string{"op", "status"})
	requests, err := registerCounterVec(reg, requests, "bridge_requests_total")
	if err != nil {
		return nil, err
	}

	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bridge_request_duration_seconds",
		Help:    "Gateway operation latency in seconds.",
		Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"op"})
	durations, err = registerHistogramVec(reg, durations, "bridge_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	vms, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "scenario_vms",
		Help: "Current number of placed VMs in the session.",
	}), "scenario_vms")
	if err != nil {
		return nil, err
	}
	flows, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "scenario_flows",
		Help: "Current number of flows in the session.",
	}), "scenario_flows")
	if err != nil {
		return nil, err
	}
	links, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "scenario_links",
		Help: "Current number of fabric links in the session.",
	}), "scenario_links")
	if err != nil {
		return nil, err
	}
	clock, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_clock_seconds",
		Help: "Current simulation clock value in seconds.",
	}), "sim_clock_seconds")
	if err != nil {
		return nil, err
	}

	return &BridgeCollector{
		gatherer:        gatherer,
		RPCRequests:     requests,
		RPCDurations:    durations,
		ScenarioVMs:     vms,
		ScenarioFlows:   flows,
		ScenarioLinks:   links,
		SimClockSeconds: clock,
	}, nil
}

// ObserveRequest records one handled gateway operation.
func (c *BridgeCollector) ObserveRequest(op, status string, elapsed time.Duration) {
	if c == nil {
		return
	}
	if c.RPCRequests != nil {
		c.RPCRequests.WithLabelValues(op, status).Inc()
	}
	if c.RPCDurations != nil {
		c.RPCDurations.WithLabelValues(op).Observe(elapsed.Seconds())
	}
}

// SetScenarioCounts drives the entity gauges; the session calls this at
// start and on every tick.
func (c *BridgeCollector) SetScenarioCounts(vms, flows, links int) {
	if c == nil {
		return
	}
	if c.ScenarioVMs != nil {
		c.ScenarioVMs.Set(float64(vms))
	}
	if c.ScenarioFlows != nil {
		c.ScenarioFlows.Set(float64(flows))
	}
	if c.ScenarioLinks != nil {
		c.ScenarioLinks.Set(float64(links))
	}
}

// SetSimClock mirrors the simulation clock into a gauge.
func (c *BridgeCollector) SetSimClock(seconds float64) {
	if c == nil || c.SimClockSeconds == nil {
		return
	}
	c.SimClockSeconds.Set(seconds)
}

// Handler exposes a ready-to-use /metrics handler.
func (c *BridgeCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
