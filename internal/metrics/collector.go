// Package metrics provides Prometheus metrics for stackup.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector owns the launcher's Prometheus metrics.
type Collector struct {
	info            *prometheus.GaugeVec
	serviceState    *prometheus.GaugeVec
	serviceUp       *prometheus.GaugeVec
	serviceUptime   *prometheus.GaugeVec
	phase           *prometheus.GaugeVec
	probeAttempts   *prometheus.CounterVec
	probeLatency    prometheus.Histogram
	unexpectedExits *prometheus.CounterVec
	cleanShutdowns  prometheus.Counter
	startTime       time.Time
}

// knownStates and knownPhases pre-populate label values so dashboards see
// zeros instead of absent series.
var knownStates = []string{
	"not_started", "starting", "running", "stopping", "stopped", "failed",
}

// NewCollector creates and registers the metric set. Pass nil to register
// with the default registerer.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		info: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "stackup_info",
				Help: "Information about the launcher (value always 1)",
			},
			[]string{"version", "backend_url"},
		),
		serviceState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "stackup_service_state",
				Help: "Current lifecycle state per managed service (1 = current state)",
			},
			[]string{"service", "state"},
		),
		serviceUp: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "stackup_service_up",
				Help: "Whether the managed service is confirmed running",
			},
			[]string{"service"},
		),
		serviceUptime: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "stackup_service_uptime_seconds",
				Help: "Uptime of the managed service",
			},
			[]string{"service"},
		),
		phase: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "stackup_supervisor_phase",
				Help: "Current supervisor phase (1 = current phase)",
			},
			[]string{"phase"},
		),
		probeAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stackup_probe_attempts_total",
				Help: "Readiness probe attempts by result",
			},
			[]string{"result"},
		),
		probeLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "stackup_probe_latency_seconds",
				Help:    "Readiness probe round-trip latency",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
			},
		),
		unexpectedExits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stackup_unexpected_exits_total",
				Help: "Managed services that died outside the shutdown path",
			},
			[]string{"service"},
		),
		cleanShutdowns: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "stackup_clean_shutdowns_total",
				Help: "Runs that ended through a requested shutdown",
			},
		),
		startTime: time.Now(),
	}

	reg.MustRegister(
		c.info, c.serviceState, c.serviceUp, c.serviceUptime,
		c.phase, c.probeAttempts, c.probeLatency, c.unexpectedExits,
		c.cleanShutdowns,
	)

	return c
}

// SetInfo publishes the launcher identity gauge.
func (c *Collector) SetInfo(version, backendURL string) {
	c.info.WithLabelValues(version, backendURL).Set(1)
}

// SetServiceState records a state transition for a service.
func (c *Collector) SetServiceState(service, state string) {
	for _, s := range knownStates {
		v := 0.0
		if s == state {
			v = 1.0
		}
		c.serviceState.WithLabelValues(service, s).Set(v)
	}

	up := 0.0
	if state == "running" {
		up = 1.0
	}
	c.serviceUp.WithLabelValues(service).Set(up)
}

// SetPhase records the supervisor phase. Previous phase gauges are cleared
// so exactly one series carries 1.
func (c *Collector) SetPhase(phase string) {
	c.phase.Reset()
	c.phase.WithLabelValues(phase).Set(1)
}

// RecordProbeAttempt records one readiness probe round trip.
func (c *Collector) RecordProbeAttempt(result string, latency time.Duration) {
	c.probeAttempts.WithLabelValues(result).Inc()
	c.probeLatency.Observe(latency.Seconds())
}

// RecordUnexpectedExit counts a service death outside the shutdown path.
func (c *Collector) RecordUnexpectedExit(service string) {
	c.unexpectedExits.WithLabelValues(service).Inc()
}

// RecordCleanShutdown counts a run that ended through a requested shutdown.
func (c *Collector) RecordCleanShutdown() {
	c.cleanShutdowns.Inc()
}

// SetServiceUptime publishes the current uptime for a service.
func (c *Collector) SetServiceUptime(service string, uptime time.Duration) {
	c.serviceUptime.WithLabelValues(service).Set(uptime.Seconds())
}
