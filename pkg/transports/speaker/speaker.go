package speaker

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/harunnryd/storyteller/pkg/audio"
	"github.com/harunnryd/storyteller/pkg/errorsx"
	"github.com/harunnryd/storyteller/pkg/frames"
	"github.com/harunnryd/storyteller/pkg/logging"
	"github.com/harunnryd/storyteller/pkg/transports"
)

// Output plays decoded PCM. Play blocks until the samples were handed to the
// device.
type Output interface {
	Play(ctx context.Context, f audio.Format, samples []int16) error
	Close() error
}

// Speaker queues clips for local playback on a background goroutine so the
// pipeline never blocks on the device.
type Speaker struct {
	out    Output
	queue  chan []byte
	logger *slog.Logger

	mu      sync.Mutex
	pending sync.WaitGroup
	closed  bool
	done    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	played  int
	failed  int
}

func New(out Output) *Speaker {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Speaker{
		out:    out,
		queue:  make(chan []byte, 64),
		logger: logging.NewComponentLogger(slog.Default(), "speaker"),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
	go s.loop()
	return s
}

// SetLogger configures structured logging for the speaker.
func (s *Speaker) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logging.NewComponentLogger(logger, "speaker")
	}
}

func (s *Speaker) Name() string { return "speaker" }

// Append queues one self-headered clip (WAV or MP3).
func (s *Speaker) Append(clip []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errorsx.Wrap(transports.ErrSinkClosed, errorsx.ReasonSinkClosed)
	}
	s.pending.Add(1)
	s.mu.Unlock()
	select {
	case s.queue <- clip:
		return nil
	case <-s.ctx.Done():
		s.pending.Done()
		return errorsx.Wrap(transports.ErrSinkClosed, errorsx.ReasonSinkClosed)
	}
}

// Wait blocks until every appended clip has been played.
func (s *Speaker) Wait() { s.pending.Wait() }

// Write implements transports.Sink using the per-utterance clip.
func (s *Speaker) Write(ctx context.Context, chunk frames.Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Append(chunk.Clip)
}

// Close waits for queued audio on a clean end and stops playback at once on
// failure. The device is released either way.
func (s *Speaker) Close(cause error) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	if cause == nil {
		s.Wait()
	}
	s.cancel()
	<-s.done
	return s.out.Close()
}

// Stats returns how many clips were played and how many failed to decode or play.
func (s *Speaker) Stats() (played, failed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.played, s.failed
}

func (s *Speaker) loop() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			s.discard()
			return
		case clip := <-s.queue:
			err := s.play(clip)
			s.mu.Lock()
			if err != nil {
				s.failed++
			} else {
				s.played++
			}
			s.mu.Unlock()
			if err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Warn("playback failed", slog.String("error", err.Error()))
			}
			s.pending.Done()
		}
	}
}

func (s *Speaker) play(clip []byte) error {
	f, pcm, err := audio.DecodeClip(clip)
	if err != nil {
		return err
	}
	if f.BitsPerSample != 16 {
		return audio.ErrUnsupported
	}
	return s.out.Play(s.ctx, f, audio.Samples16(pcm))
}

func (s *Speaker) discard() {
	for {
		select {
		case <-s.queue:
			s.pending.Done()
		default:
			return
		}
	}
}

var _ transports.Sink = (*Speaker)(nil)
