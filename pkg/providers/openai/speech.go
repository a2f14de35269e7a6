package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/harunnryd/storyteller/pkg/adapters/tts"
)

// DefaultVoice is the narration voice used when none is configured.
var DefaultVoice = tts.Voice{Name: "nova", Model: "tts-1", Format: "wav", Speed: 1.0}

// Speech calls /audio/speech once per utterance.
type Speech struct {
	APIKey  string
	BaseURL string
	Client  *http.Client
}

func NewSpeech(apiKey string) *Speech {
	return &Speech{
		APIKey:  apiKey,
		BaseURL: DefaultBaseURL,
		Client:  &http.Client{Timeout: 2 * time.Minute},
	}
}

func (s *Speech) Name() string { return "openai_tts" }

type speechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format,omitempty"`
	Speed          float64 `json:"speed,omitempty"`
}

func (s *Speech) Synthesize(ctx context.Context, text string, voice tts.Voice) ([]byte, error) {
	voice = voice.Merge(DefaultVoice)
	b, err := json.Marshal(speechRequest{
		Model:          voice.Model,
		Input:          text,
		Voice:          voice.Name,
		ResponseFormat: voice.Format,
		Speed:          voice.Speed,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+"/audio/speech", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	applyHeaders(req, s.APIKey)
	resp, err := client(s.Client).Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	return io.ReadAll(resp.Body)
}

var _ tts.Backend = (*Speech)(nil)
