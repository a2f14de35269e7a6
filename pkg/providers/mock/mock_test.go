package mock

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/harunnryd/storyteller/pkg/adapters/tts"
	"github.com/harunnryd/storyteller/pkg/audio"
	"github.com/harunnryd/storyteller/pkg/llm"
)

func TestSplitTokensIsLossless(t *testing.T) {
	toks := SplitTokens(DefaultStory)
	if strings.Join(toks, "") != DefaultStory {
		t.Fatalf("expected tokens to rebuild the story")
	}
	if toks[1] != " upon" {
		t.Fatalf("expected leading-space tokens, got %q", toks[1])
	}
}

func TestLLMAdapterReplaysTokensThenError(t *testing.T) {
	boom := errors.New("boom")
	a := NewLLMAdapter(LLMConfig{Tokens: []string{"a", "b"}, Err: boom})
	stream, err := a.Stream(context.Background(), llm.Context{})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	text, err := llm.Collect(context.Background(), stream)
	if text != "ab" || !errors.Is(err, boom) {
		t.Fatalf("unexpected result %q %v", text, err)
	}
}

func TestTTSFailFirst(t *testing.T) {
	s := NewTTS(TTSConfig{FailFirst: 1})
	if _, err := s.Synthesize(context.Background(), "hi", tts.Voice{}); err == nil {
		t.Fatalf("expected first call to fail")
	}
	clip, err := s.Synthesize(context.Background(), "hi", tts.Voice{})
	if err != nil {
		t.Fatalf("expected second call to succeed, got %v", err)
	}
	f, pcm, err := audio.DecodeWAV(clip)
	if err != nil || f.SampleRate != 24000 || len(pcm) != 2*2*8 {
		t.Fatalf("unexpected clip %+v len=%d err=%v", f, len(pcm), err)
	}
	if calls := s.Calls(); len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
}
