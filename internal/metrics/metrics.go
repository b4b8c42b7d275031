// Package metrics exposes gateway Prometheus metrics
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all Prometheus metrics for the gateway.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Session metrics
	ActiveSessions  prometheus.Gauge
	SessionsTotal   prometheus.Counter
	SessionDuration prometheus.Histogram
	SessionEnds     *prometheus.CounterVec

	// Client protocol metrics
	ClientMessages *prometheus.CounterVec
	ProtocolErrors *prometheus.CounterVec

	// Provider metrics
	ProviderConnects       *prometheus.CounterVec
	ProviderConnectLatency *prometheus.HistogramVec
	ProviderErrors         *prometheus.CounterVec
	ProviderSwaps          prometheus.Counter

	// Recorder metrics
	RecorderFallbacks prometheus.Counter
	RecordedSamples   prometheus.Counter
}

// New creates and registers all metrics on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voxbridge_active_sessions",
			Help: "Current number of open client sessions",
		}),
		SessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxbridge_sessions_total",
			Help: "Total number of client sessions accepted",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voxbridge_session_duration_seconds",
			Help:    "Client session lifetime in seconds",
			Buckets: []float64{1, 10, 30, 60, 300, 900, 1800, 3600},
		}),
		SessionEnds: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voxbridge_session_ends_total",
			Help: "Closed sessions by reason",
		}, []string{"reason"}),

		ClientMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voxbridge_client_messages_total",
			Help: "Messages received from clients by type",
		}, []string{"type"}),
		ProtocolErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voxbridge_protocol_errors_total",
			Help: "Error messages sent to clients by code",
		}, []string{"code"}),

		ProviderConnects: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voxbridge_provider_connects_total",
			Help: "Upstream connect attempts by provider and result",
		}, []string{"provider", "result"}),
		ProviderConnectLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voxbridge_provider_connect_seconds",
			Help:    "Time to complete the upstream handshake",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
		ProviderErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voxbridge_provider_errors_total",
			Help: "Runtime errors reported by upstream connections",
		}, []string{"provider"}),
		ProviderSwaps: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxbridge_provider_swaps_total",
			Help: "Provider selections that replaced a live connection",
		}),

		RecorderFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxbridge_recorder_wav_fallbacks_total",
			Help: "Recordings written as WAV because the transcoder was unavailable",
		}),
		RecordedSamples: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxbridge_recorded_samples_total",
			Help: "PCM samples written by session recorders",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
	m.SessionsTotal.Inc()
}

func (m *Metrics) SessionClosed(reason string, lifetime time.Duration) {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
	m.SessionEnds.WithLabelValues(reason).Inc()
	m.SessionDuration.Observe(lifetime.Seconds())
}

func (m *Metrics) ClientMessage(kind string) {
	if m == nil {
		return
	}
	m.ClientMessages.WithLabelValues(kind).Inc()
}

func (m *Metrics) ProtocolError(code string) {
	if m == nil {
		return
	}
	m.ProtocolErrors.WithLabelValues(code).Inc()
}

func (m *Metrics) ProviderConnect(provider string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.ProviderConnects.WithLabelValues(provider, result).Inc()
	m.ProviderConnectLatency.WithLabelValues(provider).Observe(elapsed.Seconds())
}

func (m *Metrics) ProviderError(provider string) {
	if m == nil {
		return
	}
	m.ProviderErrors.WithLabelValues(provider).Inc()
}

func (m *Metrics) ProviderSwap() {
	if m == nil {
		return
	}
	m.ProviderSwaps.Inc()
}

func (m *Metrics) RecordingFinished(usedTranscoder bool, samples int64) {
	if m == nil {
		return
	}
	if !usedTranscoder {
		m.RecorderFallbacks.Inc()
	}
	m.RecordedSamples.Add(float64(samples))
}
