package storyteller

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/harunnryd/storyteller/pkg/aggregators"
	"github.com/harunnryd/storyteller/pkg/configutil"
	"github.com/harunnryd/storyteller/pkg/llm"
	"github.com/harunnryd/storyteller/pkg/processors"
	"github.com/harunnryd/storyteller/pkg/resilience"
)

// DefaultSystemPrompt asks for a new story with a tilde after each sentence.
const DefaultSystemPrompt = `You are a children's storyteller.
You tell stories based on Disney fairy tales that are suitable for a six-year-old.
Do not recite existing stories but make up a new one.
The story should include a strong female protagonist. Any girls in the story should be intelligent and strong.
Do not summarize. Always finish with "The End".
Put a tilde (~) after each sentence.`

const DefaultPrompt = "Tell me a story."

type Config struct {
	Environment   string              `mapstructure:"environment"`
	LogLevel      string              `mapstructure:"log_level"`
	LogFormat     string              `mapstructure:"log_format"`
	Server        ServerConfig        `mapstructure:"server"`
	Story         StoryConfig         `mapstructure:"story"`
	Segmenter     SegmenterConfig     `mapstructure:"segmenter"`
	Synth         SynthConfig         `mapstructure:"synth"`
	Pipeline      PipelineConfig      `mapstructure:"pipeline"`
	Vendors       VendorsConfig       `mapstructure:"vendors"`
	Sinks         SinksConfig         `mapstructure:"sinks"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Events        EventsConfig        `mapstructure:"events"`
}

type ServerConfig struct {
	Port                int `mapstructure:"port"`
	ReadHeaderTimeoutMS int `mapstructure:"read_header_timeout_ms"`
}

type StoryConfig struct {
	Model         string  `mapstructure:"model"`
	MaxTokens     int     `mapstructure:"max_tokens"`
	Temperature   float64 `mapstructure:"temperature"`
	SystemPrompt  string  `mapstructure:"system_prompt"`
	DefaultPrompt string  `mapstructure:"default_prompt"`
}

type SegmenterConfig struct {
	MaxChars    int    `mapstructure:"max_chars"`
	Policy      string `mapstructure:"policy"`
	Terminators string `mapstructure:"terminators"`
	Secondary   string `mapstructure:"secondary"`
	Conjunction string `mapstructure:"conjunction"`
	Sentinel    string `mapstructure:"sentinel"`
}

type SynthConfig struct {
	MaxAttempts       int    `mapstructure:"max_attempts"`
	BackoffMS         int    `mapstructure:"backoff_ms"`
	TimeoutMS         int    `mapstructure:"timeout_ms"`
	OnFailure         string `mapstructure:"on_failure"`
	CircuitThreshold  int    `mapstructure:"circuit_threshold"`
	CircuitCooldownMS int    `mapstructure:"circuit_cooldown_ms"`
}

type PipelineConfig struct {
	ChannelCapacity int `mapstructure:"channel_capacity"`
	DrainTimeoutMS  int `mapstructure:"drain_timeout_ms"`
}

type VendorConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type VendorsConfig struct {
	LLM VendorConfig `mapstructure:"llm"`
	TTS VendorConfig `mapstructure:"tts"`
}

type SinksConfig struct {
	Websocket WebsocketSinkConfig `mapstructure:"websocket"`
	Speaker   SpeakerSinkConfig   `mapstructure:"speaker"`
}

type WebsocketSinkConfig struct {
	// Audio is "clip" (each message carries a self-headered clip) or
	// "stream" (messages carry the assembled stream bytes).
	Audio string `mapstructure:"audio"`
}

type SpeakerSinkConfig struct {
	FramesPerBuffer int `mapstructure:"frames_per_buffer"`
}

type ObservabilityConfig struct {
	MetricsJSONL           string  `mapstructure:"metrics_jsonl"`
	TimelineDir            string  `mapstructure:"timeline_dir"`
	TimelineRetentionHours int     `mapstructure:"timeline_retention_hours"`
	LogSampleRate          float64 `mapstructure:"log_sample_rate"`
	SentryDSN              string  `mapstructure:"sentry_dsn"`
	SentryTracesSampleRate float64 `mapstructure:"sentry_traces_sample_rate"`
	// RedactPII masks emails and phone numbers in logged story text.
	RedactPII              bool    `mapstructure:"redact_pii"`
}

type EventsConfig struct {
	Kafka       KafkaConfig `mapstructure:"kafka"`
	DatabaseURL string      `mapstructure:"database_url"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_header_timeout_ms", 5000)
	v.SetDefault("story.model", "gpt-4")
	v.SetDefault("story.max_tokens", 1024)
	v.SetDefault("story.temperature", 0)
	v.SetDefault("story.system_prompt", DefaultSystemPrompt)
	v.SetDefault("story.default_prompt", DefaultPrompt)
	v.SetDefault("segmenter.max_chars", 1000)
	v.SetDefault("segmenter.policy", "tail")
	v.SetDefault("segmenter.terminators", aggregators.DefaultTerminators)
	v.SetDefault("segmenter.secondary", aggregators.DefaultSecondary)
	v.SetDefault("segmenter.conjunction", aggregators.DefaultConjunction)
	v.SetDefault("segmenter.sentinel", aggregators.DefaultSentinel)
	v.SetDefault("synth.max_attempts", 2)
	v.SetDefault("synth.backoff_ms", 0)
	v.SetDefault("synth.timeout_ms", 30000)
	v.SetDefault("synth.on_failure", "fatal")
	v.SetDefault("synth.circuit_threshold", 3)
	v.SetDefault("synth.circuit_cooldown_ms", 30000)
	v.SetDefault("pipeline.channel_capacity", 100)
	v.SetDefault("pipeline.drain_timeout_ms", 10000)
	v.SetDefault("vendors.llm.provider", "openai")
	v.SetDefault("vendors.tts.provider", "openai")
	v.SetDefault("sinks.websocket.audio", "clip")
	v.SetDefault("sinks.speaker.frames_per_buffer", 1024)
	v.SetDefault("observability.metrics_jsonl", "")
	v.SetDefault("observability.timeline_dir", "")
	v.SetDefault("observability.timeline_retention_hours", 0)
	v.SetDefault("observability.log_sample_rate", 1)
	v.SetDefault("observability.sentry_dsn", "")
	v.SetDefault("observability.sentry_traces_sample_rate", 0.2)
	v.SetDefault("observability.redact_pii", false)
	v.SetDefault("events.kafka.enabled", false)
	v.SetDefault("events.kafka.brokers", []string{})
	v.SetDefault("events.kafka.topic", "storyteller.sessions")
	v.SetDefault("events.database_url", "")
}

// DefaultConfig returns the defaults without reading files or environment.
func DefaultConfig() Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return cfg
}

// LoadConfig reads an optional .env, then the optional YAML file at path,
// on top of the defaults. STORYTELLER_* environment variables override file
// values (STORYTELLER_SEGMENTER_MAX_CHARS for segmenter.max_chars) and PORT
// overrides server.port. ${VAR} references in strings are expanded.
func LoadConfig(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("STORYTELLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("server.port", "PORT", "STORYTELLER_SERVER_PORT"); err != nil {
		return Config{}, fmt.Errorf("bind env: %w", err)
	}

	if strings.TrimSpace(path) != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}
	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if err := configutil.RequireString(c.Vendors.LLM.Provider, "vendors.llm.provider"); err != nil {
		errs = append(errs, err)
	}
	if err := configutil.RequireString(c.Vendors.TTS.Provider, "vendors.tts.provider"); err != nil {
		errs = append(errs, err)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if c.Segmenter.MaxChars < 0 {
		errs = append(errs, fmt.Errorf("segmenter.max_chars must be >= 0"))
	}
	if p := strings.ToLower(strings.TrimSpace(c.Segmenter.Policy)); p != "" && p != "tail" && p != "first" {
		errs = append(errs, fmt.Errorf("segmenter.policy must be tail or first, got %q", c.Segmenter.Policy))
	}
	if c.Segmenter.Terminators == "" {
		errs = append(errs, fmt.Errorf("segmenter.terminators is required"))
	}
	if c.Synth.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("synth.max_attempts must be >= 1"))
	}
	switch strings.ToLower(strings.TrimSpace(c.Synth.OnFailure)) {
	case "", "fatal", "skip", "continue", "log":
	default:
		errs = append(errs, fmt.Errorf("synth.on_failure must be fatal or skip, got %q", c.Synth.OnFailure))
	}
	if c.Pipeline.ChannelCapacity < 1 {
		errs = append(errs, fmt.Errorf("pipeline.channel_capacity must be >= 1"))
	}
	switch c.Sinks.Websocket.Audio {
	case "", "clip", "stream":
	default:
		errs = append(errs, fmt.Errorf("sinks.websocket.audio must be clip or stream, got %q", c.Sinks.Websocket.Audio))
	}
	if r := c.Observability.LogSampleRate; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("observability.log_sample_rate must be within [0,1]"))
	}
	if c.Events.Kafka.Enabled && len(c.Events.Kafka.Brokers) == 0 {
		errs = append(errs, fmt.Errorf("events.kafka.brokers is required when kafka is enabled"))
	}
	return errors.Join(errs...)
}

// SegmenterConfig converts the segmenter section into the core config.
func (c Config) SegmenterConfig() aggregators.Config {
	return aggregators.Config{
		MaxChars:    c.Segmenter.MaxChars,
		Policy:      aggregators.ParsePolicy(c.Segmenter.Policy),
		Terminators: c.Segmenter.Terminators,
		Secondary:   c.Segmenter.Secondary,
		Conjunction: c.Segmenter.Conjunction,
		Sentinel:    c.Segmenter.Sentinel,
	}
}

// SynthesizerConfig converts the synth section into the core config.
func (c Config) SynthesizerConfig() processors.SynthesizerConfig {
	retry := resilience.NewRetryPolicy(c.Synth.MaxAttempts, ms(c.Synth.BackoffMS))
	retry.OnExhausted = c.FailureMode()
	return processors.SynthesizerConfig{
		Retry:            retry,
		Timeout:          ms(c.Synth.TimeoutMS),
		CircuitThreshold: c.Synth.CircuitThreshold,
		CircuitCooldown:  ms(c.Synth.CircuitCooldownMS),
	}
}

func (c Config) FailureMode() resilience.FailureMode {
	return resilience.ParseFailureMode(strings.ToLower(strings.TrimSpace(c.Synth.OnFailure)))
}

// Prompt builds the chat context for a user prompt; empty uses the default.
func (c Config) Prompt(user string) llm.Context {
	if strings.TrimSpace(user) == "" {
		user = c.Story.DefaultPrompt
	}
	ctx := llm.NewStoryContext(c.Story.SystemPrompt, user, c.Story.MaxTokens)
	ctx.Temperature = c.Story.Temperature
	return ctx
}

func (c Config) DrainTimeout() time.Duration { return ms(c.Pipeline.DrainTimeoutMS) }

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
	cfg.Vendors.LLM.Settings = expandSettings(cfg.Vendors.LLM.Settings)
	cfg.Vendors.TTS.Settings = expandSettings(cfg.Vendors.TTS.Settings)
}

func expandSettings(settings map[string]any) map[string]any {
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return configutil.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	default:
		return v
	}
}

func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	switch v.Kind() {
	case reflect.Pointer:
		if !v.IsNil() {
			expandValue(v.Elem())
		}
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(configutil.ExpandEnv(v.String()))
		}
	case reflect.Slice:
		for i := 0; i < v.Len(); i++ {
			expandValue(v.Index(i))
		}
	}
}
