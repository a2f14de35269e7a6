package llm

import (
	"context"
	"io"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string
	Content string
}

type Context struct {
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// NewStoryContext builds the system + user message pair used for narration.
func NewStoryContext(systemPrompt, prompt string, maxTokens int) Context {
	var msgs []Message
	if systemPrompt != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: systemPrompt})
	}
	msgs = append(msgs, Message{Role: RoleUser, Content: prompt})
	return Context{Messages: msgs, MaxTokens: maxTokens}
}

// TokenStream is a finite, ordered, lazy sequence of tokens.
// Next returns io.EOF once the sequence has ended.
type TokenStream interface {
	Next(ctx context.Context) (string, error)
	Close() error
}

// Adapter is the token source contract every text generator implements.
type Adapter interface {
	Name() string
	Stream(ctx context.Context, input Context) (TokenStream, error)
}

// Collect drains s into a single string.
func Collect(ctx context.Context, s TokenStream) (string, error) {
	defer s.Close()
	var out []byte
	for {
		tok, err := s.Next(ctx)
		if err == io.EOF {
			return string(out), nil
		}
		if err != nil {
			return string(out), err
		}
		out = append(out, tok...)
	}
}
