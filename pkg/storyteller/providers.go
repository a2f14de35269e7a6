package storyteller

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/harunnryd/storyteller/pkg/adapters/tts"
	"github.com/harunnryd/storyteller/pkg/configutil"
	"github.com/harunnryd/storyteller/pkg/llm"
	"github.com/harunnryd/storyteller/pkg/providers/elevenlabs"
	"github.com/harunnryd/storyteller/pkg/providers/google"
	"github.com/harunnryd/storyteller/pkg/providers/mock"
	"github.com/harunnryd/storyteller/pkg/providers/openai"
	"github.com/harunnryd/storyteller/pkg/providers/translate"
	"github.com/harunnryd/storyteller/pkg/resilience"
)

type openAILLMSettings struct {
	APIKey            string `mapstructure:"api_key"`
	Model             string `mapstructure:"model"`
	BaseURL           string `mapstructure:"base_url"`
	MaxRetries        *int   `mapstructure:"max_retries"`
	RetryBaseMs       int    `mapstructure:"retry_base_ms"`
	UseCircuitBreaker *bool  `mapstructure:"use_circuit_breaker"`
	CircuitThreshold  int    `mapstructure:"circuit_threshold"`
	CircuitCooldownMs int    `mapstructure:"circuit_cooldown_ms"`
}

type mockLLMSettings struct {
	Story   string `mapstructure:"story"`
	DelayMs int    `mapstructure:"delay_ms"`
}

type openAITTSSettings struct {
	APIKey  string   `mapstructure:"api_key"`
	Voice   string   `mapstructure:"voice"`
	Model   string   `mapstructure:"model"`
	Speed   *float64 `mapstructure:"speed"`
	BaseURL string   `mapstructure:"base_url"`
}

type googleTTSSettings struct {
	APIKey     string  `mapstructure:"api_key"`
	Voice      string  `mapstructure:"voice"`
	Language   string  `mapstructure:"language"`
	Gender     string  `mapstructure:"gender"`
	SampleRate int     `mapstructure:"sample_rate"`
	Speed      float64 `mapstructure:"speed"`
	Pitch      float64 `mapstructure:"pitch"`
	BaseURL    string  `mapstructure:"base_url"`
}

type elevenlabsSettings struct {
	APIKey       string  `mapstructure:"api_key"`
	VoiceID      string  `mapstructure:"voice_id"`
	ModelID      string  `mapstructure:"model_id"`
	OutputFormat string  `mapstructure:"output_format"`
	Stability    float64 `mapstructure:"stability"`
	Similarity   float64 `mapstructure:"similarity"`
	BaseURL      string  `mapstructure:"base_url"`
}

type translateSettings struct {
	Language string `mapstructure:"language"`
	BaseURL  string `mapstructure:"base_url"`
}

type mockTTSSettings struct {
	SampleRate     int `mapstructure:"sample_rate"`
	SamplesPerChar int `mapstructure:"samples_per_char"`
	FailFirst      int `mapstructure:"fail_first"`
	DelayMs        int `mapstructure:"delay_ms"`
}

// DefaultProviders registers every built-in vendor.
func DefaultProviders() *ProviderRegistry {
	reg := NewProviderRegistry()

	reg.RegisterLLM("openai", func(cfg Config) (llm.Adapter, error) {
		var s openAILLMSettings
		if err := configutil.DecodeSection("vendors.llm.settings", cfg.Vendors.LLM.Settings, &s); err != nil {
			return nil, err
		}
		apiKey := firstNonEmpty(s.APIKey, os.Getenv("OPENAI_API_KEY"))
		if err := configutil.RequireString(apiKey, "vendors.llm.settings.api_key (or OPENAI_API_KEY)"); err != nil {
			return nil, err
		}
		adapter := openai.NewAdapter(apiKey, firstNonEmpty(s.Model, cfg.Story.Model))
		if s.BaseURL != "" {
			adapter.BaseURL = s.BaseURL
		}
		var out llm.Adapter = adapter
		if configutil.Or(s.UseCircuitBreaker, true) {
			threshold := s.CircuitThreshold
			if threshold == 0 {
				threshold = 3
			}
			cooldown := s.CircuitCooldownMs
			if cooldown == 0 {
				cooldown = 30000
			}
			out = llm.NewCircuitBreakerAdapter(out, resilience.NewCircuitBreaker(threshold, ms(cooldown)))
		}
		if attempts := configutil.Or(s.MaxRetries, 3); attempts > 1 {
			out = llm.NewRetryAdapter(out, llm.RetryConfig{MaxAttempts: attempts, BaseDelay: ms(s.RetryBaseMs), Jitter: 0.2})
		}
		return out, nil
	})

	reg.RegisterLLM("mock", func(cfg Config) (llm.Adapter, error) {
		var s mockLLMSettings
		if err := configutil.DecodeSection("vendors.llm.settings", cfg.Vendors.LLM.Settings, &s); err != nil {
			return nil, err
		}
		return mock.NewLLMAdapter(mock.LLMConfig{
			Tokens: mock.SplitTokens(firstNonEmpty(s.Story, mock.DefaultStory)),
			Delay:  ms(s.DelayMs),
		}), nil
	})

	reg.RegisterTTS("openai", func(cfg Config) (SpeechBackend, error) {
		var s openAITTSSettings
		if err := configutil.DecodeSection("vendors.tts.settings", cfg.Vendors.TTS.Settings, &s); err != nil {
			return SpeechBackend{}, err
		}
		apiKey := firstNonEmpty(s.APIKey, os.Getenv("OPENAI_API_KEY"))
		if err := configutil.RequireString(apiKey, "vendors.tts.settings.api_key (or OPENAI_API_KEY)"); err != nil {
			return SpeechBackend{}, err
		}
		b := openai.NewSpeech(apiKey)
		if s.BaseURL != "" {
			b.BaseURL = s.BaseURL
		}
		voice := tts.Voice{Name: s.Voice, Model: s.Model, Speed: configutil.Or(s.Speed, 0)}
		return SpeechBackend{Backend: b, Voice: voice.Merge(openai.DefaultVoice), Container: ContainerWAV}, nil
	})

	reg.RegisterTTS("google", func(cfg Config) (SpeechBackend, error) {
		var s googleTTSSettings
		if err := configutil.DecodeSection("vendors.tts.settings", cfg.Vendors.TTS.Settings, &s); err != nil {
			return SpeechBackend{}, err
		}
		apiKey := firstNonEmpty(s.APIKey, os.Getenv("GOOGLE_API_KEY"))
		if err := configutil.RequireString(apiKey, "vendors.tts.settings.api_key (or GOOGLE_API_KEY)"); err != nil {
			return SpeechBackend{}, err
		}
		voice := tts.Voice{
			Name:       s.Voice,
			Language:   s.Language,
			Gender:     strings.ToUpper(s.Gender),
			SampleRate: s.SampleRate,
			Speed:      s.Speed,
			Pitch:      s.Pitch,
		}
		b := google.New(google.Config{APIKey: apiKey, BaseURL: s.BaseURL})
		return SpeechBackend{Backend: b, Voice: voice.Merge(google.DefaultVoice), Container: ContainerWAV}, nil
	})

	reg.RegisterTTS("elevenlabs", func(cfg Config) (SpeechBackend, error) {
		var s elevenlabsSettings
		if err := configutil.DecodeSection("vendors.tts.settings", cfg.Vendors.TTS.Settings, &s, "voice_id"); err != nil {
			return SpeechBackend{}, err
		}
		apiKey := firstNonEmpty(s.APIKey, os.Getenv("ELEVENLABS_API_KEY"))
		if err := configutil.RequireString(apiKey, "vendors.tts.settings.api_key (or ELEVENLABS_API_KEY)"); err != nil {
			return SpeechBackend{}, err
		}
		if f := s.OutputFormat; f != "" && !strings.HasPrefix(f, "pcm_") {
			return SpeechBackend{}, fmt.Errorf("vendors.tts.settings.output_format must be pcm_<rate>, got %q", f)
		}
		b := elevenlabs.New(elevenlabs.Config{
			APIKey:       apiKey,
			VoiceID:      s.VoiceID,
			ModelID:      s.ModelID,
			OutputFormat: s.OutputFormat,
			BaseURL:      s.BaseURL,
			Stability:    s.Stability,
			Similarity:   s.Similarity,
		})
		return SpeechBackend{Backend: b, Voice: tts.Voice{Name: s.VoiceID, Model: s.ModelID}, Container: ContainerWAV}, nil
	})

	reg.RegisterTTS("translate", func(cfg Config) (SpeechBackend, error) {
		var s translateSettings
		if err := configutil.DecodeSection("vendors.tts.settings", cfg.Vendors.TTS.Settings, &s); err != nil {
			return SpeechBackend{}, err
		}
		b := translate.New()
		if s.BaseURL != "" {
			b.BaseURL = s.BaseURL
		}
		if s.Language != "" {
			b.Language = s.Language
		}
		return SpeechBackend{Backend: b, Voice: tts.Voice{Language: b.Language}, Container: ContainerMP3}, nil
	})

	reg.RegisterTTS("mock", func(cfg Config) (SpeechBackend, error) {
		var s mockTTSSettings
		if err := configutil.DecodeSection("vendors.tts.settings", cfg.Vendors.TTS.Settings, &s); err != nil {
			return SpeechBackend{}, err
		}
		b := mock.NewTTS(mock.TTSConfig{
			SampleRate:     s.SampleRate,
			SamplesPerChar: s.SamplesPerChar,
			FailFirst:      s.FailFirst,
			Delay:          time.Duration(s.DelayMs) * time.Millisecond,
		})
		return SpeechBackend{Backend: b, Container: ContainerWAV}, nil
	})

	return reg
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// OpenAIKey returns the api_key of whichever vendor section uses openai,
// falling back to OPENAI_API_KEY.
func (c Config) OpenAIKey() string {
	for _, v := range []VendorConfig{c.Vendors.LLM, c.Vendors.TTS} {
		if v.Provider != "openai" {
			continue
		}
		if key, ok := v.Settings["api_key"].(string); ok && strings.TrimSpace(key) != "" {
			return key
		}
	}
	return os.Getenv("OPENAI_API_KEY")
}
