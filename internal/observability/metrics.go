package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pipeline stage names shared by metrics, traces and the latency window.
const (
	StageSTT       = "stt"
	StageLLM       = "llm"
	StageSynthesis = "synthesis"
	StageTrim      = "trim"
	StageTurnTotal = "turn_total"
)

// Metrics groups all Prometheus instruments used by the service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	ActiveSessions     prometheus.Gauge
	SessionEvents      *prometheus.CounterVec
	WSMessages         *prometheus.CounterVec
	ProviderErrors     *prometheus.CounterVec
	StreamEnds         *prometheus.CounterVec
	StageLatency       *prometheus.HistogramVec
	FirstAudioLatency  prometheus.Histogram
	AnnotationSpans    prometheus.Counter
	UnpairedMarkers    prometheus.Counter
	MalformedAlignment prometheus.Counter
	TrimmedAudioMs     prometheus.Counter

	stages *stageWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of open relay sessions.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		ProviderErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Provider errors by provider and code.",
		}, []string{"provider", "code"}),
		StreamEnds: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synthesis_stream_ends_total",
			Help:      "How synthesis streams ended.",
		}, []string{"reason"}),
		StageLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_latency_ms",
			Help:      "Pipeline stage latency in milliseconds.",
			Buckets:   []float64{10, 50, 100, 250, 500, 1000, 2000, 4000, 8000},
		}, []string{"stage"}),
		FirstAudioLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "first_audio_latency_ms",
			Help:      "Latency from handshake to first provider audio chunk in milliseconds.",
			Buckets:   []float64{100, 200, 300, 500, 700, 900, 1200, 2000},
		}),
		AnnotationSpans: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "annotation_spans_total",
			Help:      "Annotation spans cut from synthesized audio.",
		}),
		UnpairedMarkers: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "annotation_unpaired_total",
			Help:      "Syntheses skipped for trimming because markers could not be paired.",
		}),
		MalformedAlignment: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alignment_malformed_total",
			Help:      "Syntheses whose alignment blocks failed validation.",
		}),
		TrimmedAudioMs: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trimmed_audio_ms_total",
			Help:      "Milliseconds of audio removed by annotation trimming.",
		}),
		stages: newStageWindow(256),
	}
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	ms := float64(d.Microseconds()) / 1000
	m.StageLatency.WithLabelValues(stage).Observe(ms)
	m.stages.Observe(stage, ms)
}

func (m *Metrics) ObserveFirstAudioLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.FirstAudioLatency.Observe(float64(d.Milliseconds()))
}

func (m *Metrics) ObserveStreamEnd(reason string) {
	if m == nil {
		return
	}
	m.StreamEnds.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveProviderError(provider, code string) {
	if m == nil {
		return
	}
	if code == "" {
		code = "unknown"
	}
	m.ProviderErrors.WithLabelValues(provider, code).Inc()
	m.stages.ObserveIndicator("provider_error")
}

// ObserveTrim records the outcome of one annotation pass.
func (m *Metrics) ObserveTrim(spans int, removedMs int, unpaired, malformed bool) {
	if m == nil {
		return
	}
	m.AnnotationSpans.Add(float64(spans))
	if removedMs > 0 {
		m.TrimmedAudioMs.Add(float64(removedMs))
	}
	if unpaired {
		m.UnpairedMarkers.Inc()
		m.stages.ObserveIndicator("unpaired_markers")
	}
	if malformed {
		m.MalformedAlignment.Inc()
		m.stages.ObserveIndicator("malformed_alignment")
	}
}

func (m *Metrics) ObserveWSMessage(direction, kind string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, kind).Inc()
}

func (m *Metrics) ObserveSessionEvent(event string) {
	if m == nil {
		return
	}
	m.SessionEvents.WithLabelValues(event).Inc()
}

// SnapshotStages summarizes the recent latency window.
func (m *Metrics) SnapshotStages() StageSnapshot {
	if m == nil {
		return StageSnapshot{GeneratedAt: time.Now().UTC()}
	}
	return m.stages.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
