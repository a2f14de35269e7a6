package mock

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/harunnryd/storyteller/pkg/adapters/tts"
	"github.com/harunnryd/storyteller/pkg/audio"
)

type TTSConfig struct {
	SampleRate int
	// SamplesPerChar sets clip length relative to the text.
	SamplesPerChar int
	// FailFirst fails that many calls before succeeding.
	FailFirst int
	// FailAlways fails every call.
	FailAlways bool
	Err        error
	Delay      time.Duration
}

// TTS returns a deterministic sine-wave WAV per call.
type TTS struct {
	cfg   TTSConfig
	mu    sync.Mutex
	texts []string
}

func NewTTS(cfg TTSConfig) *TTS {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = audio.DefaultFormat.SampleRate
	}
	if cfg.SamplesPerChar == 0 {
		cfg.SamplesPerChar = 8
	}
	if cfg.Err == nil {
		cfg.Err = errors.New("mock tts failure")
	}
	return &TTS{cfg: cfg}
}

func (s *TTS) Name() string { return "mock_tts" }

func (s *TTS) Synthesize(ctx context.Context, text string, voice tts.Voice) ([]byte, error) {
	s.mu.Lock()
	s.texts = append(s.texts, text)
	n := len(s.texts)
	s.mu.Unlock()
	if s.cfg.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.cfg.Delay):
		}
	}
	if s.cfg.FailAlways || n <= s.cfg.FailFirst {
		return nil, s.cfg.Err
	}
	return Tone(len(text)*s.cfg.SamplesPerChar, s.cfg.SampleRate)
}

// Calls returns the texts received so far, in order.
func (s *TTS) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.texts))
	copy(out, s.texts)
	return out
}

// Tone encodes a 440 Hz mono 16-bit WAV of n samples.
func Tone(n, sampleRate int) ([]byte, error) {
	pcm := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := int16(8000 * math.Sin(2*math.Pi*440*float64(i)/float64(sampleRate)))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}
	return audio.EncodeWAV(pcm, audio.Format{SampleRate: sampleRate, Channels: 1, BitsPerSample: 16})
}

var _ tts.Backend = (*TTS)(nil)
