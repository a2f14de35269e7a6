package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "storyteller"

// PrometheusObserver turns pipeline events into Prometheus series.
type PrometheusObserver struct {
	registry *prometheus.Registry

	SessionsTotal  prometheus.Counter
	SessionsActive prometheus.Gauge
	SessionsFailed *prometheus.CounterVec
	SessionLength  prometheus.Histogram

	Utterances   *prometheus.CounterVec
	SynthLatency *prometheus.HistogramVec
	SynthRetries *prometheus.CounterVec
	SynthSkipped *prometheus.CounterVec
	RateLimits   *prometheus.CounterVec
	BreakerOpen  *prometheus.CounterVec

	AudioBytes      prometheus.Counter
	FirstToken      prometheus.Histogram
	TimeToFirstByte prometheus.Histogram
}

// NewPrometheusObserver registers every series on a fresh registry so tests
// and multiple engines never collide on the global one.
func NewPrometheusObserver() *PrometheusObserver {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	latencyBuckets := []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30}
	return &PrometheusObserver{
		registry: reg,
		SessionsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of narration sessions started",
		}),
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of narration sessions currently running",
		}),
		SessionsFailed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_failed_total",
			Help:      "Total number of failed sessions by stage",
		}, []string{"stage"}),
		SessionLength: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of completed sessions in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),
		Utterances: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_total",
			Help:      "Utterances emitted by the segmenter",
		}, []string{"forced", "break"}),
		SynthLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "synth_latency_seconds",
			Help:      "Latency of successful synthesis calls including retries",
			Buckets:   latencyBuckets,
		}, []string{"provider"}),
		SynthRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synth_retries_total",
			Help:      "Synthesis attempts after the first",
		}, []string{"provider"}),
		SynthSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synth_skipped_total",
			Help:      "Utterances dropped after every attempt failed",
		}, []string{"provider"}),
		RateLimits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limits_total",
			Help:      "Rate limit responses by provider and component",
		}, []string{"provider", "component"}),
		BreakerOpen: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_open_total",
			Help:      "Times a circuit breaker opened",
		}, []string{"provider", "component"}),
		AudioBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_total",
			Help:      "Assembled audio bytes written to sinks",
		}),
		FirstToken: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "first_token_seconds",
			Help:      "Time from session start to the first story token",
			Buckets:   latencyBuckets,
		}),
		TimeToFirstByte: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "first_audio_seconds",
			Help:      "Time from session start to the first audio written",
			Buckets:   latencyBuckets,
		}),
	}
}

// Registry exposes the registry for the /metrics handler.
func (p *PrometheusObserver) Registry() *prometheus.Registry { return p.registry }

func (p *PrometheusObserver) RecordEvent(ev MetricsEvent) {
	tag := func(k string) string {
		if ev.Tags == nil {
			return ""
		}
		return ev.Tags[k]
	}
	switch ev.Name {
	case EventSessionStart:
		p.SessionsTotal.Inc()
		p.SessionsActive.Inc()
	case EventSessionEnd:
		p.SessionsActive.Dec()
		p.SessionLength.Observe(ev.Value / 1000)
	case EventSessionFailed:
		p.SessionsActive.Dec()
		p.SessionsFailed.WithLabelValues(tag(TagStage)).Inc()
	case EventUtterance:
		p.Utterances.WithLabelValues(tag(TagForced), tag(TagBreak)).Inc()
	case EventSynthDone:
		p.SynthLatency.WithLabelValues(tag(TagProvider)).Observe(ev.Value / 1000)
	case EventSynthRetry:
		p.SynthRetries.WithLabelValues(tag(TagProvider)).Inc()
	case EventSynthSkipped:
		p.SynthSkipped.WithLabelValues(tag(TagProvider)).Inc()
	case EventRateLimit:
		p.RateLimits.WithLabelValues(tag(TagProvider), tag(TagComponent)).Inc()
	case EventBreakerOpen:
		p.BreakerOpen.WithLabelValues(tag(TagProvider), tag(TagComponent)).Inc()
	case EventAudioBytes:
		p.AudioBytes.Add(ev.Value)
	case EventFirstToken:
		p.FirstToken.Observe(ev.Value / 1000)
	case EventFirstAudio:
		p.TimeToFirstByte.Observe(ev.Value / 1000)
	}
}
