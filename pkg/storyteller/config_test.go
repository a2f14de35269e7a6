package storyteller

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/harunnryd/storyteller/pkg/aggregators"
	"github.com/harunnryd/storyteller/pkg/resilience"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "storyteller.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Server.Port != 8080 || cfg.Segmenter.MaxChars != 1000 || cfg.Synth.MaxAttempts != 2 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.Pipeline.ChannelCapacity != 100 || cfg.Sinks.Websocket.Audio != "clip" {
		t.Fatalf("unexpected pipeline defaults %+v", cfg)
	}
	if !strings.Contains(cfg.Story.SystemPrompt, "tilde") {
		t.Fatalf("expected storyteller system prompt")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("STORY_TEST_KEY", "sk-test")
	t.Setenv("STORYTELLER_SYNTH_ON_FAILURE", "skip")
	path := writeConfig(t, `
segmenter:
  max_chars: 100
  policy: first
  terminators: "~\n"
vendors:
  llm:
    provider: mock
  tts:
    provider: openai
    settings:
      api_key: ${STORY_TEST_KEY}
      voice: alloy
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Fatalf("expected PORT override, got %d", cfg.Server.Port)
	}
	if cfg.Vendors.TTS.Settings["api_key"] != "sk-test" {
		t.Fatalf("expected expanded api key, got %v", cfg.Vendors.TTS.Settings["api_key"])
	}
	if cfg.FailureMode() != resilience.FailSkip {
		t.Fatalf("expected skip from env, got %s", cfg.FailureMode())
	}
	seg := cfg.SegmenterConfig()
	if seg.MaxChars != 100 || seg.Policy != aggregators.PolicyFirst || seg.Terminators != "~\n" {
		t.Fatalf("unexpected segmenter config %+v", seg)
	}
	if seg.Secondary != aggregators.DefaultSecondary {
		t.Fatalf("expected default secondary punctuation, got %q", seg.Secondary)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Segmenter.Policy = "middle"
	cfg.Synth.MaxAttempts = 0
	cfg.Sinks.Websocket.Audio = "mp3"
	cfg.Events.Kafka.Enabled = true
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"segmenter.policy", "synth.max_attempts", "sinks.websocket.audio", "events.kafka.brokers"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %s in %v", want, err)
		}
	}
}

func TestSynthesizerConfigFromSection(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Synth.MaxAttempts = 4
	cfg.Synth.BackoffMS = 25
	sc := cfg.SynthesizerConfig()
	if sc.Retry.MaxAttempts != 4 || sc.Retry.Backoff.Milliseconds() != 25 {
		t.Fatalf("unexpected retry policy %+v", sc.Retry)
	}
	if sc.Timeout.Seconds() != 30 {
		t.Fatalf("expected 30s timeout, got %s", sc.Timeout)
	}
}

func TestPromptDefaults(t *testing.T) {
	cfg := DefaultConfig()
	ctx := cfg.Prompt("  ")
	if len(ctx.Messages) != 2 || ctx.Messages[1].Content != DefaultPrompt {
		t.Fatalf("expected default user prompt, got %+v", ctx.Messages)
	}
	if ctx.MaxTokens != 1024 {
		t.Fatalf("expected max tokens 1024, got %d", ctx.MaxTokens)
	}
}

func TestOpenAIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "from-env")
	cfg := DefaultConfig()
	cfg.Vendors.LLM = VendorConfig{Provider: "mock"}
	cfg.Vendors.TTS = VendorConfig{Provider: "openai", Settings: map[string]any{"api_key": "from-tts"}}
	if got := cfg.OpenAIKey(); got != "from-tts" {
		t.Fatalf("expected tts settings key, got %q", got)
	}
	cfg.Vendors.TTS = VendorConfig{Provider: "google", Settings: map[string]any{"api_key": "google"}}
	if got := cfg.OpenAIKey(); got != "from-env" {
		t.Fatalf("expected env fallback, got %q", got)
	}
}
