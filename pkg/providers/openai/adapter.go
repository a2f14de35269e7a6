package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/harunnryd/storyteller/pkg/errorsx"
	"github.com/harunnryd/storyteller/pkg/llm"
	"github.com/harunnryd/storyteller/pkg/resilience"
)

const DefaultBaseURL = "https://api.openai.com/v1"

// Adapter streams chat completions as tokens.
type Adapter struct {
	APIKey  string
	Model   string
	BaseURL string
	Client  *http.Client
}

func NewAdapter(apiKey, model string) *Adapter {
	return &Adapter{
		APIKey:  apiKey,
		Model:   model,
		BaseURL: DefaultBaseURL,
		Client:  &http.Client{Timeout: 5 * time.Minute},
	}
}

func (a *Adapter) Name() string { return "openai" }

// Stream opens a server-sent-events completion. The returned stream ends
// with io.EOF on "[DONE]", or when the body ends after a chunk carrying a
// finish_reason. A body cut short or an undecodable chunk ends it with a
// source_stream error.
func (a *Adapter) Stream(ctx context.Context, input llm.Context) (llm.TokenStream, error) {
	body, err := a.buildRequest(input)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/chat/completions", body)
	if err != nil {
		return nil, err
	}
	applyHeaders(req, a.APIKey)
	resp, err := client(a.Client).Do(req)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonSourceConnect)
	}
	if err := checkStatus(resp); err != nil {
		resp.Body.Close()
		if resilience.IsRateLimit(err) {
			return nil, errorsx.Wrap(err, errorsx.ReasonSourceRateLimit)
		}
		return nil, errorsx.Wrap(err, errorsx.ReasonSourceConnect)
	}

	stream := llm.NewChanStream(128, resp.Body.Close)
	go func() {
		finished := false
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				stream.Finish(nil)
				return
			}
			text, done, err := parseDelta(data)
			if err != nil {
				stream.Finish(errorsx.Wrap(err, errorsx.ReasonSourceStream))
				return
			}
			finished = finished || done
			if text == "" {
				continue
			}
			if !stream.Send(ctx, text) {
				stream.Finish(nil)
				return
			}
		}
		if err := scanner.Err(); err != nil {
			stream.Finish(errorsx.Wrap(fmt.Errorf("read completion stream: %w", err), errorsx.ReasonSourceStream))
			return
		}
		if !finished {
			stream.Finish(errorsx.Wrap(fmt.Errorf("completion stream ended without [DONE]: %w", io.ErrUnexpectedEOF), errorsx.ReasonSourceStream))
			return
		}
		stream.Finish(nil)
	}()
	return stream, nil
}

type chatRequest struct {
	Model       string        `json:"model"`
	Stream      bool          `json:"stream"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// parseDelta returns the content of one chunk and whether it carried a
// finish_reason.
func parseDelta(data string) (string, bool, error) {
	var chunk chatChunk
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		return "", false, fmt.Errorf("decode completion chunk: %w", err)
	}
	if chunk.Error != nil {
		return "", false, errors.New(chunk.Error.Message)
	}
	if len(chunk.Choices) == 0 {
		return "", false, nil
	}
	c := chunk.Choices[0]
	return c.Delta.Content, c.FinishReason != "", nil
}

func (a *Adapter) buildRequest(input llm.Context) (*bytes.Buffer, error) {
	req := chatRequest{
		Model:       a.Model,
		Stream:      true,
		MaxTokens:   input.MaxTokens,
		Temperature: input.Temperature,
	}
	for _, m := range input.Messages {
		req.Messages = append(req.Messages, chatMessage{Role: m.Role, Content: m.Content})
	}
	b, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	return bytes.NewBuffer(b), nil
}

func applyHeaders(req *http.Request, apiKey string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)
}

func client(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return http.DefaultClient
}

// checkStatus maps non-2xx responses to errors; 429 becomes a RateLimitError.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode == http.StatusTooManyRequests {
		return resilience.RateLimitFromResponse("openai", resp, string(body))
	}
	return fmt.Errorf("openai: %s: %s", resp.Status, strings.TrimSpace(string(body)))
}

var _ llm.Adapter = (*Adapter)(nil)
