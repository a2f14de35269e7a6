package storyteller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/harunnryd/storyteller/pkg/aggregators"
	"github.com/harunnryd/storyteller/pkg/llm"
	"github.com/harunnryd/storyteller/pkg/logging"
	"github.com/harunnryd/storyteller/pkg/metrics"
	"github.com/harunnryd/storyteller/pkg/observers"
	"github.com/harunnryd/storyteller/pkg/pipeline"
	"github.com/harunnryd/storyteller/pkg/processors"
	"github.com/harunnryd/storyteller/pkg/redact"
	"github.com/harunnryd/storyteller/pkg/resilience"
	"github.com/harunnryd/storyteller/pkg/runner"
	"github.com/harunnryd/storyteller/pkg/transports"
)

// ErrNeedsClipSink is returned when a session asks for an assembled stream
// from a backend whose clips cannot be stitched (MP3).
var ErrNeedsClipSink = errors.New("speech backend does not produce wav; use a clip sink")

// Engine owns the long-lived parts shared by every session: the token
// source, the synthesizer (and its circuit breaker), observers and the
// session registry.
type Engine struct {
	cfg       Config
	providers *ProviderRegistry
	source    llm.Adapter
	speech    SpeechBackend
	synth     *processors.Synthesizer
	registry  *pipeline.SessionRegistry
	runner    *runner.LifecycleRunner
	listeners []pipeline.StateListener
	obs       metrics.Observer
	prom      *metrics.PrometheusObserver
	asyncObs  *metrics.AsyncObserver
	timeline  *observers.TimelineObserver
	closers   []io.Closer
	logger    *slog.Logger
}

type EngineOptions struct {
	Config    Config
	Providers *ProviderRegistry
	// Listeners receive every session's state changes.
	Listeners []pipeline.StateListener
	// Observers are added to the metrics fan-out.
	Observers []metrics.Observer
	Logger    *slog.Logger
	// Source and Speech override the configured vendors.
	Source llm.Adapter
	Speech *SpeechBackend
	// Hooks are passed to the lifecycle runner.
	Hooks runner.Hooks
}

// SessionOptions tune one narration.
type SessionOptions struct {
	ID     string
	Prompt string
	// ClipsOnly skips stream assembly; required for MP3 backends.
	ClipsOnly   bool
	Segmenter   *aggregators.Config
	FailureMode *resilience.FailureMode
	OnToken     func(string)
	Listeners   []pipeline.StateListener
}

func NewEngine(opts EngineOptions) (*Engine, error) {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	redact.SetPII(cfg.Observability.RedactPII)
	providers := opts.Providers
	if providers == nil {
		providers = DefaultProviders()
	}
	e := &Engine{
		cfg:       cfg,
		providers: providers,
		registry:  pipeline.NewSessionRegistry(),
		listeners: opts.Listeners,
		logger:    logging.NewComponentLogger(logger, "engine"),
	}

	source := opts.Source
	if source == nil {
		var err error
		if source, err = providers.BuildLLM(cfg.Vendors.LLM.Provider, cfg); err != nil {
			return nil, fmt.Errorf("build llm: %w", err)
		}
	}
	e.source = source

	if opts.Speech != nil {
		e.speech = *opts.Speech
	} else {
		speech, err := providers.BuildTTS(cfg.Vendors.TTS.Provider, cfg)
		if err != nil {
			return nil, fmt.Errorf("build tts: %w", err)
		}
		e.speech = speech
	}
	if e.speech.Container == "" {
		e.speech.Container = ContainerWAV
	}

	if err := e.buildObservers(opts.Observers, logger); err != nil {
		e.Close()
		return nil, err
	}
	if setter, ok := source.(interface{ SetObserver(metrics.Observer) }); ok {
		setter.SetObserver(e.obs)
	}

	synthCfg := cfg.SynthesizerConfig()
	synthCfg.Voice = e.speech.Voice
	e.synth = processors.NewSynthesizer(e.speech.Backend, synthCfg)
	e.synth.SetObserver(e.obs)
	e.synth.SetLogger(logger)

	e.runner = runner.NewLifecycleRunner(runner.DrainerFunc(func(ctx context.Context) error {
		e.logger.Info("draining sessions", slog.Int64("active", e.registry.Count()))
		return e.registry.DrainContext(ctx)
	}), opts.Hooks, cfg.DrainTimeout())

	e.logger.Info("storyteller_init",
		slog.String("environment", cfg.Environment),
		slog.String("llm_provider", source.Name()),
		slog.String("tts_provider", e.speech.Backend.Name()),
		slog.String("container", e.speech.Container),
		slog.Int("max_chars", cfg.Segmenter.MaxChars),
		slog.String("policy", cfg.Segmenter.Policy),
		slog.String("on_failure", cfg.FailureMode().String()))
	return e, nil
}

func (e *Engine) buildObservers(extra []metrics.Observer, logger *slog.Logger) error {
	obs := e.cfg.Observability
	latency := observers.NewLatencyObserver(logger)
	logObs := metrics.NewSamplingObserver(observers.NewLoggerObserver(logger), obs.LogSampleRate)
	list := []metrics.Observer{latency, logObs}

	if path := strings.TrimSpace(obs.MetricsJSONL); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open metrics jsonl: %w", err)
		}
		e.closers = append(e.closers, f)
		list = append(list, metrics.NewJSONLObserver(f))
	}
	if dir := strings.TrimSpace(obs.TimelineDir); dir != "" {
		if obs.TimelineRetentionHours > 0 {
			n, err := observers.PurgeTimelines(dir, time.Duration(obs.TimelineRetentionHours)*time.Hour)
			if err != nil {
				e.logger.Warn("timeline purge failed", slog.String("error", err.Error()))
			} else if n > 0 {
				e.logger.Info("timelines purged", slog.Int("removed", n))
			}
		}
		e.timeline = observers.NewTimelineObserver(dir)
		list = append(list, e.timeline)
	}
	list = append(list, extra...)
	e.asyncObs = metrics.NewAsyncObserver(observers.NewMultiObserver(list...), 2048)

	e.prom = metrics.NewPrometheusObserver()
	e.obs = observers.NewMultiObserver(e.prom, e.asyncObs)
	return nil
}

// NewSession builds a session writing to sink. The caller runs it, usually
// through Run so the registry can drain it.
func (e *Engine) NewSession(opts SessionOptions, sink transports.Sink) (*pipeline.Session, error) {
	if !opts.ClipsOnly && !e.speech.Assemblable() {
		_ = sink.Close(ErrNeedsClipSink)
		return nil, fmt.Errorf("%s: %w", e.speech.Backend.Name(), ErrNeedsClipSink)
	}
	seg := e.cfg.SegmenterConfig()
	if opts.Segmenter != nil {
		seg = *opts.Segmenter
	}
	mode := e.cfg.FailureMode()
	if opts.FailureMode != nil {
		mode = *opts.FailureMode
	}
	sess := pipeline.NewSession(pipeline.SessionConfig{
		ID:              opts.ID,
		ChannelCapacity: e.cfg.Pipeline.ChannelCapacity,
		Segmenter:       seg,
		FailureMode:     mode,
		Prompt:          e.cfg.Prompt(opts.Prompt),
		ClipsOnly:       opts.ClipsOnly,
	}, e.source, e.synth, sink)
	sess.SetObserver(e.obs)
	if opts.OnToken != nil {
		sess.OnToken(opts.OnToken)
	}
	for _, l := range e.listeners {
		sess.AddListener(l)
	}
	for _, l := range opts.Listeners {
		sess.AddListener(l)
	}
	return sess, nil
}

// Run runs sess under the registry so Drain can wait for it.
func (e *Engine) Run(ctx context.Context, sess *pipeline.Session) error {
	return e.registry.Run(ctx, sess)
}

// Narrate builds and runs one session to completion.
func (e *Engine) Narrate(ctx context.Context, opts SessionOptions, sink transports.Sink) (pipeline.SessionStats, error) {
	sess, err := e.NewSession(opts, sink)
	if err != nil {
		return pipeline.SessionStats{}, err
	}
	err = e.Run(ctx, sess)
	return sess.Stats(), err
}

// Drain refuses new sessions and waits up to timeout for running ones.
func (e *Engine) Drain(timeout time.Duration) error {
	e.logger.Info("draining sessions", slog.Int64("active", e.registry.Count()))
	return e.registry.Drain(timeout)
}

// Start runs the lifecycle runner until ctx ends, then drains.
func (e *Engine) Start(ctx context.Context) error {
	return e.runner.Run(ctx)
}

func (e *Engine) Stop() error {
	return e.runner.Stop()
}

// Close flushes observers and closes metric files.
func (e *Engine) Close() {
	if e.asyncObs != nil {
		e.asyncObs.Close()
	}
	if e.timeline != nil {
		_ = e.timeline.Close()
	}
	for _, c := range e.closers {
		_ = c.Close()
	}
}

// Health reports whether new sessions are accepted.
func (e *Engine) Health() error {
	if e.registry.Draining() {
		return pipeline.ErrDraining
	}
	return nil
}

func (e *Engine) Config() Config                       { return e.cfg }
func (e *Engine) Registry() *pipeline.SessionRegistry  { return e.registry }
func (e *Engine) Metrics() *metrics.PrometheusObserver { return e.prom }
func (e *Engine) Observer() metrics.Observer           { return e.obs }
func (e *Engine) Source() llm.Adapter                  { return e.source }
func (e *Engine) Speech() SpeechBackend                { return e.speech }
func (e *Engine) Synthesizer() *processors.Synthesizer { return e.synth }
func (e *Engine) ProviderRegistry() *ProviderRegistry  { return e.providers }
