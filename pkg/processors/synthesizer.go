package processors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/harunnryd/storyteller/pkg/adapters/tts"
	"github.com/harunnryd/storyteller/pkg/errorsx"
	"github.com/harunnryd/storyteller/pkg/frames"
	"github.com/harunnryd/storyteller/pkg/logging"
	"github.com/harunnryd/storyteller/pkg/metrics"
	"github.com/harunnryd/storyteller/pkg/redact"
	"github.com/harunnryd/storyteller/pkg/resilience"
)

const DefaultSynthTimeout = 30 * time.Second

// SynthesizerConfig is passed in explicitly by the session builder.
type SynthesizerConfig struct {
	Voice            tts.Voice
	Retry            resilience.RetryPolicy
	Timeout          time.Duration
	CircuitThreshold int
	CircuitCooldown  time.Duration
}

func DefaultSynthesizerConfig() SynthesizerConfig {
	return SynthesizerConfig{
		Retry:            resilience.NewRetryPolicy(2, 0),
		Timeout:          DefaultSynthTimeout,
		CircuitThreshold: 3,
		CircuitCooldown:  30 * time.Second,
	}
}

// ErrEmptyAudio is returned when a backend answers with no bytes.
var ErrEmptyAudio = errors.New("backend returned no audio")

// Synthesizer turns utterances into clips through a Backend. It applies the
// retry policy, a per-call timeout and a rate-limit circuit breaker.
// Each ForSession copy carries its own breaker, so one session's rate limits
// never short-circuit another session.
type Synthesizer struct {
	backend   tts.Backend
	cfg       SynthesizerConfig
	breaker   *resilience.CircuitBreaker
	obs       metrics.Observer
	logger    *slog.Logger
	sessionID string

	state *breakerState
}

type breakerState struct {
	mu   sync.Mutex
	open bool
}

func NewSynthesizer(backend tts.Backend, cfg SynthesizerConfig) *Synthesizer {
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = resilience.NewRetryPolicy(2, cfg.Retry.Backoff)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultSynthTimeout
	}
	return &Synthesizer{
		backend: backend,
		cfg:     cfg,
		breaker: resilience.NewCircuitBreaker(cfg.CircuitThreshold, cfg.CircuitCooldown),
		obs:     metrics.NoopObserver{},
		logger:  logging.NewComponentLogger(slog.Default(), "synthesizer"),
		state:   &breakerState{},
	}
}

func (s *Synthesizer) Name() string { return "synthesizer" }

func (s *Synthesizer) Provider() string { return s.backend.Name() }

func (s *Synthesizer) Config() SynthesizerConfig { return s.cfg }

func (s *Synthesizer) SetObserver(obs metrics.Observer) {
	if obs != nil {
		s.obs = obs
	}
}

// SetLogger configures structured logging for the synthesizer.
func (s *Synthesizer) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logging.NewComponentLogger(logger, "synthesizer")
	}
}

// ForSession returns a copy that tags logs and metrics with sessionID and
// starts with a closed breaker of its own.
func (s *Synthesizer) ForSession(sessionID string, mode resilience.FailureMode) *Synthesizer {
	cp := *s
	cp.sessionID = sessionID
	cp.breaker = resilience.NewCircuitBreaker(s.cfg.CircuitThreshold, s.cfg.CircuitCooldown)
	cp.state = &breakerState{}
	cp.cfg.Retry.OnExhausted = mode
	cp.logger = s.logger.With(slog.String("session_id", sessionID))
	return &cp
}

// Synthesize returns the clip for u. It returns (nil, nil) without calling
// the backend when u has nothing to say, and also when every attempt failed
// under FailSkip. Any other failure is a StageError for the synth stage.
func (s *Synthesizer) Synthesize(ctx context.Context, u frames.Utterance) (*frames.Clip, error) {
	text := u.Speech()
	if text == "" {
		s.logger.Debug("tts skipped empty utterance",
			slog.Int("utterance_index", u.Index))
		return nil, nil
	}

	if !s.breaker.Allow() {
		s.record(metrics.EventBreakerDenied, 1, u)
		s.setBreakerOpen(true, u)
		err := errorsx.Wrap(resilience.RateLimitError{Provider: s.Provider(), Message: "circuit open"}, errorsx.ReasonSynthCircuitOpen)
		return s.exhausted(ctx, u, err, 0)
	}
	s.setBreakerOpen(false, u)

	s.logger.Info("tts request",
		slog.Int("utterance_index", u.Index),
		slog.String("provider", s.Provider()),
		slog.String("text", redact.Text(logging.ClipText(text, 120))),
		slog.Int("text_length", len(text)))

	var (
		audio    []byte
		attempts int
	)
	start := time.Now()
	err := s.cfg.Retry.Do(ctx, func(ctx context.Context, attempt int) error {
		attempts = attempt
		if attempt > 1 {
			s.record(metrics.EventSynthRetry, float64(attempt), u)
			s.logger.Warn("tts retrying",
				slog.Int("utterance_index", u.Index),
				slog.Int("attempt", attempt),
				slog.String("reason_code", string(errorsx.ReasonSynthRetry)))
		}
		s.record(metrics.EventSynthAttempt, float64(attempt), u)
		b, err := s.call(ctx, text)
		if err != nil {
			if resilience.IsRateLimit(err) {
				s.record(metrics.EventRateLimit, 1, u)
			}
			if s.breaker.OnError(err) {
				s.setBreakerOpen(true, u)
			}
			s.logger.Warn("tts attempt failed",
				slog.Int("utterance_index", u.Index),
				slog.Int("attempt", attempt),
				slog.String("reason_code", string(errorsx.Reason(err))),
				slog.String("error", redact.Error(err)))
			return err
		}
		audio = b
		return nil
	})
	if err != nil {
		if attempts > 1 {
			err = fmt.Errorf("tts failed after %d attempts: %w", attempts, err)
		}
		return s.exhausted(ctx, u, err, attempts)
	}

	s.breaker.OnSuccess()
	elapsed := time.Since(start)
	s.record(metrics.EventSynthDone, float64(elapsed.Milliseconds()), u)
	s.logger.Debug("tts request successful",
		slog.Int("utterance_index", u.Index),
		slog.Int("attempts", attempts),
		slog.Int("size_bytes", len(audio)),
		slog.Duration("latency", elapsed))
	return &frames.Clip{
		Index:    u.Index,
		Text:     text,
		Audio:    audio,
		Provider: s.Provider(),
		Attempts: attempts,
	}, nil
}

func (s *Synthesizer) call(ctx context.Context, text string) ([]byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	audio, err := s.backend.Synthesize(callCtx, text, s.cfg.Voice)
	if err != nil {
		if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, errorsx.Wrap(fmt.Errorf("tts call exceeded %s: %w", s.cfg.Timeout, err), errorsx.ReasonSynthTimeout)
		}
		if resilience.IsRateLimit(err) {
			return nil, errorsx.Wrap(err, errorsx.ReasonSynthRateLimit)
		}
		return nil, errorsx.Wrap(err, errorsx.ReasonSynthBackend)
	}
	if len(audio) == 0 {
		return nil, errorsx.Wrap(ErrEmptyAudio, errorsx.ReasonSynthBackend)
	}
	return audio, nil
}

// exhausted applies the failure mode once no attempt is left.
func (s *Synthesizer) exhausted(ctx context.Context, u frames.Utterance, err error, attempts int) (*frames.Clip, error) {
	if s.cfg.Retry.OnExhausted == resilience.FailSkip && ctx.Err() == nil {
		s.record(metrics.EventSynthSkipped, 1, u)
		s.logger.Warn("tts failed, skipping utterance",
			slog.Int("utterance_index", u.Index),
			slog.Int("attempts", attempts),
			slog.String("reason_code", string(errorsx.Reason(err))),
			slog.String("error", redact.Error(err)))
		return nil, nil
	}
	s.logger.Error("tts failed",
		slog.Int("utterance_index", u.Index),
		slog.Int("attempts", attempts),
		slog.String("reason_code", string(errorsx.Reason(err))),
		slog.String("error", redact.Error(err)))
	return nil, errorsx.NewStageError(errorsx.StageSynth, u.Index, err)
}

func (s *Synthesizer) record(name string, value float64, u frames.Utterance) {
	metrics.Emit(s.obs, name, value, map[string]string{
		metrics.TagSessionID: s.sessionID,
		metrics.TagProvider:  s.Provider(),
		metrics.TagComponent: "tts",
		frames.MetaIndex:     strconv.Itoa(u.Index),
	})
}

func (s *Synthesizer) setBreakerOpen(open bool, u frames.Utterance) {
	s.state.mu.Lock()
	changed := s.state.open != open
	s.state.open = open
	s.state.mu.Unlock()
	if !changed {
		return
	}
	if open {
		s.record(metrics.EventBreakerOpen, 1, u)
		s.logger.Warn("tts circuit breaker open",
			slog.String("reason_code", string(errorsx.ReasonSynthCircuitOpen)),
			slog.String("reason", "rate_limit_protection"))
		return
	}
	s.record(metrics.EventBreakerClose, 1, u)
}
