package translate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/harunnryd/storyteller/pkg/adapters/tts"
	"github.com/harunnryd/storyteller/pkg/resilience"
)

const (
	DefaultBaseURL = "https://translate.google.com/translate_tts"
	// MaxChars is the longest text the endpoint accepts per request.
	MaxChars = 100
)

// ErrTooLong is returned for text over MaxChars bytes.
var ErrTooLong = errors.New("translate tts: text too long")

// TTS fetches MP3 speech from the public translate endpoint. It needs no
// credentials and pairs with the low-latency segmenter preset.
type TTS struct {
	BaseURL  string
	Language string
	Client   *http.Client
}

func New() *TTS {
	return &TTS{
		BaseURL:  DefaultBaseURL,
		Language: "en",
		Client:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (t *TTS) Name() string { return "translate_tts" }

func (t *TTS) Synthesize(ctx context.Context, text string, voice tts.Voice) ([]byte, error) {
	if len(text) > MaxChars {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLong, len(text))
	}
	lang := voice.Language
	if lang == "" {
		lang = t.Language
	}
	q := url.Values{}
	q.Set("ie", "UTF-8")
	q.Set("q", text)
	q.Set("tl", lang)
	q.Set("total", "1")
	q.Set("idx", "0")
	q.Set("textlen", strconv.Itoa(len(text)))
	q.Set("client", "tw-ob")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.BaseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	c := t.Client
	if c == nil {
		c = http.DefaultClient
	}
	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, resilience.RateLimitFromResponse("translate", resp, "")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("translate tts: %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

var _ tts.Backend = (*TTS)(nil)
