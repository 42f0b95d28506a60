// Package metrics exposes Prometheus instrumentation for playout, fan-out and horizon extension.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Violation kinds recorded by the protocol violation counter
const (
	ViolationLeadTime       = "lead_time"
	ViolationRendererStatus = "renderer_status"
)

// Metrics holds Prometheus collectors for the playout control plane.
// All methods are safe to call on a nil receiver so components can run uninstrumented.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal *prometheus.CounterVec

	switchLeadTime     *prometheus.HistogramVec
	protocolViolations *prometheus.CounterVec
	terminalFailures   *prometheus.CounterVec
	switchesTotal      *prometheus.CounterVec
	previewsTotal      *prometheus.CounterVec

	admissionsTotal *prometheus.CounterVec
	activeChannels  prometheus.Gauge
	viewers         *prometheus.GaugeVec
	teardownsTotal  *prometheus.CounterVec

	horizonBlocksWritten *prometheus.CounterVec
	horizonPasses        *prometheus.CounterVec

	publishesTotal *prometheus.CounterVec
}

// New creates and registers Prometheus metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests by method and status code",
		}, []string{"method", "status"}),
		switchLeadTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "playout_switch_lead_time_seconds",
			Help:    "Observed time between preview issuance and the switch boundary",
			Buckets: []float64{0.25, 0.5, 1, 2, 3, 5, 10, 30},
		}, []string{"channel"}),
		protocolViolations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "playout_protocol_violations_total",
			Help: "Switches issued with insufficient lead time or flagged by the renderer",
		}, []string{"channel", "kind"}),
		terminalFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "playout_terminal_failures_total",
			Help: "Channels that entered the terminal failure state",
		}, []string{"channel"}),
		switchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "playout_switches_total",
			Help: "Total number of SwitchToLive calls issued",
		}, []string{"channel"}),
		previewsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "playout_previews_total",
			Help: "Total number of LoadPreview calls issued",
		}, []string{"channel"}),
		admissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "director_admissions_total",
			Help: "Viewer join attempts by admission result",
		}, []string{"result"}),
		activeChannels: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "director_active_channels",
			Help: "Number of channels with a live manager",
		}),
		viewers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "director_viewers",
			Help: "Number of attached viewers per channel",
		}, []string{"channel"}),
		teardownsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "director_teardowns_total",
			Help: "Channel teardowns by reason",
		}, []string{"reason"}),
		horizonBlocksWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "horizon_blocks_written_total",
			Help: "Blocks written to the transmission log by the horizon daemon",
		}, []string{"channel"}),
		horizonPasses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "horizon_extend_passes_total",
			Help: "Horizon extension passes by outcome",
		}, []string{"channel", "outcome"}),
		publishesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "execution_publishes_total",
			Help: "Execution window publishes by result",
		}, []string{"channel", "result"}),
	}

	registry.MustRegister(
		m.httpRequestsTotal,
		m.switchLeadTime,
		m.protocolViolations,
		m.terminalFailures,
		m.switchesTotal,
		m.previewsTotal,
		m.admissionsTotal,
		m.activeChannels,
		m.viewers,
		m.teardownsTotal,
		m.horizonBlocksWritten,
		m.horizonPasses,
		m.publishesTotal,
	)

	return m
}

// ObserveRequest counts a completed HTTP request.
func (m *Metrics) ObserveRequest(method string, status int) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
}

// ObserveLeadTime records the lead time of a switch in seconds.
func (m *Metrics) ObserveLeadTime(channelID string, seconds float64) {
	if m == nil {
		return
	}
	m.switchLeadTime.WithLabelValues(channelID).Observe(seconds)
}

// IncProtocolViolation increments the protocol violation counter.
func (m *Metrics) IncProtocolViolation(channelID, kind string) {
	if m == nil {
		return
	}
	m.protocolViolations.WithLabelValues(channelID, kind).Inc()
}

// IncTerminalFailure increments the terminal failure counter.
func (m *Metrics) IncTerminalFailure(channelID string) {
	if m == nil {
		return
	}
	m.terminalFailures.WithLabelValues(channelID).Inc()
}

// IncSwitch increments the issued switch counter.
func (m *Metrics) IncSwitch(channelID string) {
	if m == nil {
		return
	}
	m.switchesTotal.WithLabelValues(channelID).Inc()
}

// IncPreview increments the issued preview counter.
func (m *Metrics) IncPreview(channelID string) {
	if m == nil {
		return
	}
	m.previewsTotal.WithLabelValues(channelID).Inc()
}

// IncAdmission counts a join attempt; accepted=false means the gate rejected it.
func (m *Metrics) IncAdmission(accepted bool) {
	if m == nil {
		return
	}
	result := "accepted"
	if !accepted {
		result = "rejected"
	}
	m.admissionsTotal.WithLabelValues(result).Inc()
}

// SetActiveChannels sets the active channels gauge.
func (m *Metrics) SetActiveChannels(n int) {
	if m == nil {
		return
	}
	m.activeChannels.Set(float64(n))
}

// SetViewers sets the viewer gauge for a channel.
func (m *Metrics) SetViewers(channelID string, n int) {
	if m == nil {
		return
	}
	m.viewers.WithLabelValues(channelID).Set(float64(n))
}

// IncTeardown counts a channel teardown.
func (m *Metrics) IncTeardown(reason string) {
	if m == nil {
		return
	}
	m.teardownsTotal.WithLabelValues(reason).Inc()
}

// AddHorizonBlocks adds to the horizon written-blocks counter.
func (m *Metrics) AddHorizonBlocks(channelID string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.horizonBlocksWritten.WithLabelValues(channelID).Add(float64(n))
}

// IncHorizonPass counts an extension pass with its outcome (ok, skipped, error).
func (m *Metrics) IncHorizonPass(channelID, outcome string) {
	if m == nil {
		return
	}
	m.horizonPasses.WithLabelValues(channelID, outcome).Inc()
}

// IncPublish counts a publish attempt with its result (applied, stale, invalid).
func (m *Metrics) IncPublish(channelID, result string) {
	if m == nil {
		return
	}
	m.publishesTotal.WithLabelValues(channelID, result).Inc()
}

// Registry returns the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
