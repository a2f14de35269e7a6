package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harunnryd/storyteller/pkg/adapters/tts"
	"github.com/harunnryd/storyteller/pkg/audio"
	"github.com/harunnryd/storyteller/pkg/logging"
	"github.com/harunnryd/storyteller/pkg/resilience"
)

const DefaultBaseURL = "wss://api.elevenlabs.io/v1"

type Config struct {
	APIKey       string
	VoiceID      string
	ModelID      string
	OutputFormat string
	BaseURL      string
	Stability    float64
	Similarity   float64
}

// ElevenLabsTTS opens one stream-input websocket per utterance, sends the
// whole text, and wraps the returned PCM in a WAV header so clips can be
// assembled like any other backend.
type ElevenLabsTTS struct {
	cfg    Config
	dialer websocket.Dialer
	logger *slog.Logger
}

type inboundMessage struct {
	Audio       string `json:"audio"`
	AudioBase64 string `json:"audio_base_64"`
	IsFinal     bool   `json:"isFinal"`
	Error       string `json:"error"`
	Message     string `json:"message"`
}

func New(cfg Config) *ElevenLabsTTS {
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = "pcm_24000"
	}
	if cfg.ModelID == "" {
		cfg.ModelID = "eleven_turbo_v2_5"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Stability == 0 {
		cfg.Stability = 0.5
	}
	if cfg.Similarity == 0 {
		cfg.Similarity = 0.8
	}
	return &ElevenLabsTTS{
		cfg:    cfg,
		dialer: websocket.Dialer{Proxy: http.ProxyFromEnvironment, HandshakeTimeout: 10 * time.Second},
		logger: logging.NewComponentLogger(slog.Default(), "elevenlabs"),
	}
}

func (s *ElevenLabsTTS) Name() string { return "elevenlabs_tts" }

// SampleRate parses the rate out of a pcm_<rate> output format.
func (s *ElevenLabsTTS) SampleRate() int {
	rate, err := strconv.Atoi(strings.TrimPrefix(s.cfg.OutputFormat, "pcm_"))
	if err != nil || rate <= 0 {
		return audio.DefaultFormat.SampleRate
	}
	return rate
}

func (s *ElevenLabsTTS) Synthesize(ctx context.Context, text string, voice tts.Voice) ([]byte, error) {
	voiceID := s.cfg.VoiceID
	if voice.Name != "" {
		voiceID = voice.Name
	}
	if s.cfg.APIKey == "" || voiceID == "" {
		return nil, errors.New("missing elevenlabs config")
	}
	u := s.buildURL(voiceID, voice.Model)

	conn, resp, err := s.dialer.DialContext(ctx, u, http.Header{"xi-api-key": []string{s.cfg.APIKey}})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
			return nil, resilience.RateLimitFromResponse("elevenlabs", resp, "")
		}
		return nil, fmt.Errorf("elevenlabs dial: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if !strings.HasSuffix(text, " ") {
		text += " "
	}
	for _, payload := range []map[string]any{
		{
			"text": " ",
			"voice_settings": map[string]any{
				"stability":        s.cfg.Stability,
				"similarity_boost": s.cfg.Similarity,
			},
		},
		{"text": text, "flush": true},
		{"text": ""},
	} {
		if err := conn.WriteJSON(payload); err != nil {
			return nil, fmt.Errorf("elevenlabs send: %w", err)
		}
	}

	var pcm []byte
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) && len(pcm) > 0 {
				break
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("elevenlabs read: %w", err)
		}
		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn("elevenlabs raw data", slog.Int("size_bytes", len(data)))
			continue
		}
		if msg.Error != "" {
			if strings.Contains(strings.ToLower(msg.Error), "rate") {
				return nil, resilience.RateLimitError{Provider: "elevenlabs", Message: msg.Message}
			}
			return nil, fmt.Errorf("elevenlabs: %s: %s", msg.Error, msg.Message)
		}
		chunk := msg.Audio
		if chunk == "" {
			chunk = msg.AudioBase64
		}
		if chunk != "" {
			raw, err := base64.StdEncoding.DecodeString(chunk)
			if err != nil {
				return nil, fmt.Errorf("elevenlabs audio decode: %w", err)
			}
			pcm = append(pcm, raw...)
		}
		if msg.IsFinal {
			break
		}
	}
	s.logger.Debug("elevenlabs clip received", slog.Int("size_bytes", len(pcm)))
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return audio.EncodeWAV(pcm, audio.Format{SampleRate: s.SampleRate(), Channels: 1, BitsPerSample: 16})
}

func (s *ElevenLabsTTS) buildURL(voiceID, model string) string {
	if model == "" {
		model = s.cfg.ModelID
	}
	q := url.Values{}
	q.Set("model_id", model)
	q.Set("output_format", s.cfg.OutputFormat)
	return s.cfg.BaseURL + "/text-to-speech/" + url.PathEscape(voiceID) + "/stream-input?" + q.Encode()
}

var _ tts.Backend = (*ElevenLabsTTS)(nil)
