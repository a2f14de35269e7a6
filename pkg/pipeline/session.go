package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/harunnryd/storyteller/pkg/aggregators"
	"github.com/harunnryd/storyteller/pkg/audio"
	"github.com/harunnryd/storyteller/pkg/errorsx"
	"github.com/harunnryd/storyteller/pkg/frames"
	"github.com/harunnryd/storyteller/pkg/llm"
	"github.com/harunnryd/storyteller/pkg/logging"
	"github.com/harunnryd/storyteller/pkg/metrics"
	"github.com/harunnryd/storyteller/pkg/processors"
	"github.com/harunnryd/storyteller/pkg/redact"
	"github.com/harunnryd/storyteller/pkg/resilience"
	"github.com/harunnryd/storyteller/pkg/transports"
)

const DefaultChannelCapacity = 100

// ErrAlreadyRan is returned when Run is called twice on one session.
var ErrAlreadyRan = errors.New("session already ran")

// SessionConfig is built once per request and passed in explicitly.
type SessionConfig struct {
	ID              string
	ChannelCapacity int
	Segmenter       aggregators.Config
	FailureMode     resilience.FailureMode
	Prompt          llm.Context
	// ClipsOnly skips stream assembly; chunks carry only the per-utterance
	// clip. Sinks that decode each clip themselves (the speaker) use it, and
	// it is the only mode that accepts non-WAV backends.
	ClipsOnly bool
}

// SessionStats summarizes a finished or running session.
type SessionStats struct {
	Tokens     int
	Chars      int
	Utterances int
	Forced     int
	HardCuts   int
	Clips      int
	Skipped    int
	Bytes      int64
	FirstAudio time.Duration
}

// Session narrates one story: a producer pulls tokens and segments them, a
// consumer synthesizes, assembles and writes each utterance in order. The two
// are joined by a bounded channel.
type Session struct {
	cfg     SessionConfig
	source  llm.Adapter
	synth   *processors.Synthesizer
	sink    transports.Sink
	fsm     *stateMachine
	obs     metrics.Observer
	logger  *slog.Logger
	onToken func(string)
	created time.Time
	ran     atomic.Bool

	mu    sync.Mutex
	stats SessionStats
}

func NewSessionID() string { return uuid.NewString() }

func NewSession(cfg SessionConfig, source llm.Adapter, synth *processors.Synthesizer, sink transports.Sink) *Session {
	if cfg.ID == "" {
		cfg.ID = NewSessionID()
	}
	if cfg.ChannelCapacity <= 0 {
		cfg.ChannelCapacity = DefaultChannelCapacity
	}
	if cfg.Segmenter.MaxChars == 0 && cfg.Segmenter.Terminators == "" {
		cfg.Segmenter = aggregators.DefaultConfig()
	}
	logger := logging.NewComponentLogger(slog.Default(), "pipeline").With(slog.String("session_id", cfg.ID))
	synth = synth.ForSession(cfg.ID, cfg.FailureMode)
	return &Session{
		cfg:     cfg,
		source:  source,
		synth:   synth,
		sink:    sink,
		fsm:     newStateMachine(cfg.ID),
		obs:     metrics.NoopObserver{},
		logger:  logger,
		created: time.Now(),
	}
}

func (s *Session) ID() string { return s.cfg.ID }

func (s *Session) State() State { return s.fsm.State() }

func (s *Session) Created() time.Time { return s.created }

func (s *Session) AddListener(l StateListener) { s.fsm.AddListener(l) }

func (s *Session) SetObserver(obs metrics.Observer) {
	if obs != nil {
		s.obs = obs
	}
}

// SetLogger configures structured logging for the session.
func (s *Session) SetLogger(logger *slog.Logger) {
	if logger != nil {
		withID := logger.With(slog.String("session_id", s.cfg.ID))
		s.logger = logging.NewComponentLogger(withID, "pipeline")
		s.synth.SetLogger(withID)
	}
}

// OnToken registers a hook called with every token, from the producer.
func (s *Session) OnToken(fn func(string)) { s.onToken = fn }

func (s *Session) Stats() SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Run drives the session to Closed or Failed. The sink is always closed
// before Run returns, with the failure cause when there is one.
func (s *Session) Run(ctx context.Context) error {
	if !s.ran.CompareAndSwap(false, true) {
		return ErrAlreadyRan
	}
	start := time.Now()
	s.record(metrics.EventSessionStart, 1, nil)
	s.logger.Info("session started",
		slog.String("llm_provider", s.source.Name()),
		slog.String("tts_provider", s.synth.Provider()),
		slog.String("sink", s.sink.Name()),
		slog.Int("max_chars", s.cfg.Segmenter.MaxChars),
		slog.String("on_failure", s.cfg.FailureMode.String()))

	stream, err := s.source.Stream(ctx, s.cfg.Prompt)
	if err != nil {
		err = errorsx.NewStageError(errorsx.StageSource, -1, errorsx.Wrap(err, errorsx.ReasonSourceConnect))
		return s.finish(err, start)
	}
	s.transition(StateStreaming, "source connected", nil)

	g, gctx := errgroup.WithContext(ctx)
	ch := make(chan frames.Utterance, s.cfg.ChannelCapacity)
	g.Go(func() error { return s.produce(gctx, stream, ch, start) })
	g.Go(func() error { return s.consume(gctx, ch, start) })
	return s.finish(g.Wait(), start)
}

func (s *Session) produce(ctx context.Context, stream llm.TokenStream, out chan<- frames.Utterance, start time.Time) error {
	defer close(out)
	defer stream.Close()

	seg := aggregators.NewSegmenter(s.cfg.Segmenter)
	seg.SetLogger(s.logger)
	send := func(us []frames.Utterance) error {
		for _, u := range us {
			s.recordUtterance(u)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case out <- u:
			}
		}
		return nil
	}

	for {
		tok, err := stream.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errorsx.NewStageError(errorsx.StageSource, -1, errorsx.Wrap(err, errorsx.ReasonSourceStream))
		}
		s.recordToken(tok, start)
		if err := send(seg.Push(tok)); err != nil {
			return err
		}
	}

	stats := s.Stats()
	s.record(metrics.EventSourceDone, float64(time.Since(start).Milliseconds()), nil)
	s.logger.Info("token stream finished",
		slog.Int("tokens", stats.Tokens),
		slog.Int("chars", stats.Chars))
	s.transition(StateDraining, "source exhausted", nil)
	if err := send(seg.Flush()); err != nil {
		return err
	}
	_, _, cuts := seg.Stats()
	s.mu.Lock()
	s.stats.HardCuts = cuts
	s.mu.Unlock()
	return nil
}

func (s *Session) consume(ctx context.Context, in <-chan frames.Utterance, start time.Time) error {
	asm := audio.NewAssembler()
	for u := range in {
		if u.Empty() {
			s.logger.Debug("utterance has no speech",
				slog.Int("utterance_index", u.Index))
			continue
		}
		clip, err := s.synth.Synthesize(ctx, u)
		if err != nil {
			return err
		}
		if clip == nil {
			s.mu.Lock()
			s.stats.Skipped++
			s.mu.Unlock()
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		chunk := frames.Chunk{Index: u.Index, Text: clip.Text, Clip: clip.Audio}
		size := len(clip.Audio)
		if !s.cfg.ClipsOnly {
			stream, err := asm.Add(clip.Audio)
			if err != nil {
				return errorsx.NewStageError(errorsx.StageAssemble, u.Index, err)
			}
			chunk.Stream = stream
			size = len(stream)
		}
		if err := s.sink.Write(ctx, chunk); err != nil {
			return errorsx.NewStageError(errorsx.StageSink, u.Index, errorsx.Wrap(err, errorsx.ReasonSinkWrite))
		}
		s.recordClip(size, start)
	}
	return nil
}

func (s *Session) finish(err error, start time.Time) error {
	stats := s.Stats()
	elapsed := time.Since(start)
	if err == nil {
		s.transition(StateClosed, "completed", nil)
		if cerr := s.sink.Close(nil); cerr != nil {
			s.logger.Warn("sink close failed", slog.String("error", cerr.Error()))
		}
		s.record(metrics.EventSessionEnd, float64(elapsed.Milliseconds()), nil)
		s.logger.Info("session completed",
			slog.Int("tokens", stats.Tokens),
			slog.Int("utterances", stats.Utterances),
			slog.Int("clips", stats.Clips),
			slog.Int("skipped", stats.Skipped),
			slog.Int64("audio_bytes", stats.Bytes),
			slog.Duration("duration", elapsed))
		return nil
	}

	reason := string(errorsx.StageOf(err))
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		reason = "cancelled"
	}
	if reason == "" {
		reason = "error"
	}
	s.transition(StateFailed, reason, err)
	if cerr := s.sink.Close(err); cerr != nil {
		s.logger.Warn("sink close failed", slog.String("error", cerr.Error()))
	}
	s.record(metrics.EventSessionFailed, 1, map[string]string{metrics.TagStage: reason})
	s.logger.Error("session failed",
		slog.String("stage", reason),
		slog.String("reason_code", string(errorsx.Reason(err))),
		slog.String("error", redact.Error(err)),
		slog.Int("clips", stats.Clips),
		slog.Int64("audio_bytes", stats.Bytes))
	return err
}

func (s *Session) transition(to State, reason string, cause error) {
	if err := s.fsm.Transition(to, reason, cause); err != nil {
		s.logger.Warn("state transition rejected", slog.String("error", err.Error()))
	}
}

func (s *Session) recordToken(tok string, start time.Time) {
	s.mu.Lock()
	s.stats.Tokens++
	s.stats.Chars += len(tok)
	first := s.stats.Tokens == 1
	s.mu.Unlock()
	if first {
		s.record(metrics.EventFirstToken, float64(time.Since(start).Milliseconds()), nil)
	}
	if s.onToken != nil {
		s.onToken(tok)
	}
}

func (s *Session) recordUtterance(u frames.Utterance) {
	s.mu.Lock()
	s.stats.Utterances++
	if u.Forced {
		s.stats.Forced++
	}
	s.mu.Unlock()
	s.record(metrics.EventUtterance, float64(len(u.Raw)), map[string]string{
		metrics.TagForced: strconv.FormatBool(u.Forced),
		metrics.TagBreak:  u.Break,
	})
}

func (s *Session) recordClip(n int, start time.Time) {
	s.mu.Lock()
	s.stats.Clips++
	s.stats.Bytes += int64(n)
	first := s.stats.Clips == 1
	if first {
		s.stats.FirstAudio = time.Since(start)
	}
	firstAudio := s.stats.FirstAudio
	s.mu.Unlock()
	if first {
		s.record(metrics.EventFirstAudio, float64(firstAudio.Milliseconds()), nil)
	}
	s.record(metrics.EventAudioBytes, float64(n), nil)
}

func (s *Session) record(name string, value float64, extra map[string]string) {
	tags := map[string]string{
		metrics.TagSessionID: s.cfg.ID,
		metrics.TagProvider:  s.synth.Provider(),
		metrics.TagComponent: "pipeline",
	}
	for k, v := range extra {
		tags[k] = v
	}
	metrics.Emit(s.obs, name, value, tags)
}
