package storyteller

import (
	"fmt"
	"sort"
	"strings"

	"github.com/harunnryd/storyteller/pkg/adapters/tts"
	"github.com/harunnryd/storyteller/pkg/llm"
)

// Container names the audio format a speech backend returns.
const (
	ContainerWAV = "wav"
	ContainerMP3 = "mp3"
)

// SpeechBackend is a built speech vendor with its voice selection.
// Only WAV backends can feed the stream assembler.
type SpeechBackend struct {
	Backend   tts.Backend
	Voice     tts.Voice
	Container string
}

// Assemblable reports whether clips can be stitched into one WAV stream.
func (b SpeechBackend) Assemblable() bool { return b.Container == ContainerWAV }

type LLMFactory func(cfg Config) (llm.Adapter, error)
type TTSFactory func(cfg Config) (SpeechBackend, error)

type ProviderRegistry struct {
	llm map[string]LLMFactory
	tts map[string]TTSFactory
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		llm: make(map[string]LLMFactory),
		tts: make(map[string]TTSFactory),
	}
}

func (r *ProviderRegistry) RegisterLLM(name string, factory LLMFactory) {
	r.llm[providerKey(name)] = factory
}

func (r *ProviderRegistry) RegisterTTS(name string, factory TTSFactory) {
	r.tts[providerKey(name)] = factory
}

func (r *ProviderRegistry) BuildLLM(provider string, cfg Config) (llm.Adapter, error) {
	fn := r.llm[providerKey(provider)]
	if fn == nil {
		return nil, fmt.Errorf("llm provider not registered: %s (have %s)", provider, strings.Join(keys(r.llm), ", "))
	}
	return fn(cfg)
}

func (r *ProviderRegistry) BuildTTS(provider string, cfg Config) (SpeechBackend, error) {
	fn := r.tts[providerKey(provider)]
	if fn == nil {
		return SpeechBackend{}, fmt.Errorf("tts provider not registered: %s (have %s)", provider, strings.Join(keys(r.tts), ", "))
	}
	b, err := fn(cfg)
	if err != nil {
		return SpeechBackend{}, err
	}
	if b.Container == "" {
		b.Container = ContainerWAV
	}
	return b, nil
}

func providerKey(name string) string { return strings.ToLower(strings.TrimSpace(name)) }

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
