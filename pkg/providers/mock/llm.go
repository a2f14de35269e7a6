package mock

import (
	"context"
	"strings"
	"time"

	"github.com/harunnryd/storyteller/pkg/llm"
)

// DefaultStory is split into word tokens when no tokens are configured.
const DefaultStory = "Once upon a time, there was a brave girl named Ada.~ She built a boat and sailed to the moon.~ The End.~"

type LLMConfig struct {
	Tokens    []string
	Err       error
	Delay     time.Duration
	OpenError error
}

// LLMAdapter replays a fixed token list, optionally failing mid-stream.
type LLMAdapter struct {
	cfg    LLMConfig
	Inputs []llm.Context
}

func NewLLMAdapter(cfg LLMConfig) *LLMAdapter {
	if len(cfg.Tokens) == 0 {
		cfg.Tokens = SplitTokens(DefaultStory)
	}
	return &LLMAdapter{cfg: cfg}
}

func (a *LLMAdapter) Name() string { return "mock_llm" }

func (a *LLMAdapter) Stream(ctx context.Context, input llm.Context) (llm.TokenStream, error) {
	a.Inputs = append(a.Inputs, input)
	if a.cfg.OpenError != nil {
		return nil, a.cfg.OpenError
	}
	if a.cfg.Delay <= 0 {
		return llm.NewSliceStream(a.cfg.Tokens, a.cfg.Err), nil
	}
	stream := llm.NewChanStream(0, nil)
	go func() {
		for _, tok := range a.cfg.Tokens {
			select {
			case <-ctx.Done():
				stream.Finish(ctx.Err())
				return
			case <-time.After(a.cfg.Delay):
			}
			if !stream.Send(ctx, tok) {
				stream.Finish(nil)
				return
			}
		}
		stream.Finish(a.cfg.Err)
	}()
	return stream, nil
}

// SplitTokens cuts text before every space, the way chat models tend to.
func SplitTokens(text string) []string {
	var out []string
	for len(text) > 0 {
		i := strings.IndexByte(text[1:], ' ')
		if i < 0 {
			out = append(out, text)
			break
		}
		out = append(out, text[:i+1])
		text = text[i+1:]
	}
	return out
}

var _ llm.Adapter = (*LLMAdapter)(nil)
