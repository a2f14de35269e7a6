package google

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/harunnryd/storyteller/pkg/adapters/tts"
	"github.com/harunnryd/storyteller/pkg/resilience"
)

const DefaultBaseURL = "https://texttospeech.googleapis.com/v1"

// DefaultVoice is the studio narration voice at 24 kHz LINEAR16.
var DefaultVoice = tts.Voice{
	Name:       "en-US-Studio-O",
	Language:   "en-us",
	Gender:     "FEMALE",
	Format:     "LINEAR16",
	SampleRate: 24000,
	Speed:      1.0,
}

type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// TTS calls the Cloud Text-to-Speech text:synthesize REST method.
type TTS struct {
	cfg    Config
	client *http.Client
}

func New(cfg Config) *TTS {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &TTS{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

func (g *TTS) Name() string { return "google_tts" }

type synthesizeRequest struct {
	Input       synthesisInput `json:"input"`
	Voice       voiceParams    `json:"voice"`
	AudioConfig audioConfig    `json:"audioConfig"`
}

type synthesisInput struct {
	Text string `json:"text"`
}

type voiceParams struct {
	LanguageCode string `json:"languageCode"`
	Name         string `json:"name"`
	SsmlGender   string `json:"ssmlGender,omitempty"`
}

type audioConfig struct {
	AudioEncoding   string  `json:"audioEncoding"`
	SpeakingRate    float64 `json:"speakingRate"`
	Pitch           float64 `json:"pitch"`
	VolumeGainDb    float64 `json:"volumeGainDb"`
	SampleRateHertz int     `json:"sampleRateHertz"`
}

type synthesizeResponse struct {
	AudioContent string `json:"audioContent"`
}

func (g *TTS) Synthesize(ctx context.Context, text string, voice tts.Voice) ([]byte, error) {
	voice = voice.Merge(DefaultVoice)
	body, err := json.Marshal(synthesizeRequest{
		Input: synthesisInput{Text: text},
		Voice: voiceParams{LanguageCode: voice.Language, Name: voice.Name, SsmlGender: strings.ToUpper(voice.Gender)},
		AudioConfig: audioConfig{
			AudioEncoding:   voice.Format,
			SpeakingRate:    voice.Speed,
			Pitch:           voice.Pitch,
			SampleRateHertz: voice.SampleRate,
		},
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+"/text:synthesize", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.cfg.APIKey != "" {
		req.Header.Set("X-Goog-Api-Key", g.cfg.APIKey)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, resilience.RateLimitFromResponse("google", resp, string(msg))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("google tts: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	var out synthesizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("google tts decode: %w", err)
	}
	return base64.StdEncoding.DecodeString(out.AudioContent)
}

var _ tts.Backend = (*TTS)(nil)
