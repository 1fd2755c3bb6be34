package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveViews         prometheus.Gauge
	ViewEvents          *prometheus.CounterVec
	WSMessages          *prometheus.CounterVec
	CacheLookups        *prometheus.CounterVec
	SynthesisOutcomes   *prometheus.CounterVec
	PlaybackTransitions *prometheus.CounterVec
	BackendRequests     *prometheus.CounterVec
	BackendLatency      *prometheus.HistogramVec
	SynthesisLatency    prometheus.Histogram

	stages *stageWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveViews: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_views",
			Help:      "Number of open transcript views.",
		}),
		ViewEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "view_events_total",
			Help:      "View lifecycle events by type.",
		}, []string{"event"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		CacheLookups: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tts_cache_lookups_total",
			Help:      "Audio cache lookups by tier and result.",
		}, []string{"tier", "result"}),
		SynthesisOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tts_synthesis_total",
			Help:      "Speech synthesis attempts by outcome.",
		}, []string{"outcome"}),
		PlaybackTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_transitions_total",
			Help:      "Playback state transitions.",
		}, []string{"from", "to"}),
		BackendRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_requests_total",
			Help:      "Backend requests by endpoint and status code.",
		}, []string{"endpoint", "status"}),
		BackendLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_request_duration_ms",
			Help:      "Backend request latency in milliseconds.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000, 120000},
		}, []string{"endpoint"}),
		SynthesisLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tts_synthesis_latency_ms",
			Help:      "Latency from synthesis request to durable audio URL in milliseconds.",
			Buckets:   []float64{250, 500, 1000, 2000, 4000, 8000, 15000, 30000, 60000},
		}),
		stages: newStageWindow(256),
	}
}

// ObserveBackend records one backend call. Status 0 means unreachable.
func (m *Metrics) ObserveBackend(endpoint string, status int, elapsed time.Duration) {
	code := "unreachable"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	m.BackendRequests.WithLabelValues(endpoint, code).Inc()
	m.BackendLatency.WithLabelValues(endpoint).Observe(float64(elapsed.Milliseconds()))
}

// ObserveCacheLookup counts a hit or miss on the session or remote tier.
func (m *Metrics) ObserveCacheLookup(tier string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(tier, result).Inc()
}

// ObserveSynthesis records a synthesis outcome and, on success, its latency.
func (m *Metrics) ObserveSynthesis(outcome string, d time.Duration) {
	m.SynthesisOutcomes.WithLabelValues(outcome).Inc()
	if outcome == "ok" {
		m.SynthesisLatency.Observe(float64(d.Milliseconds()))
	}
}

func (m *Metrics) ObservePlayback(from, to string) {
	m.PlaybackTransitions.WithLabelValues(from, to).Inc()
}

// ObserveStage adds a sample to the rolling per-stage latency window.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.stages.Observe(stage, float64(d.Microseconds())/1000)
}

func (m *Metrics) ObserveIndicator(name string) {
	m.stages.ObserveIndicator(name)
}

func (m *Metrics) SnapshotStages() StageSnapshot {
	return m.stages.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
