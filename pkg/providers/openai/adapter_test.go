package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/harunnryd/storyteller/pkg/adapters/tts"
	"github.com/harunnryd/storyteller/pkg/errorsx"
	"github.com/harunnryd/storyteller/pkg/llm"
	"github.com/harunnryd/storyteller/pkg/resilience"
)

func TestAdapterStreamsTokens(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer key" {
			t.Errorf("missing auth header")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "text/event-stream")
		for _, tok := range []string{"Once", " upon", " a time."} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", tok)
		}
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	a := NewAdapter("key", "gpt-4")
	a.BaseURL = srv.URL
	stream, err := a.Stream(context.Background(), llm.NewStoryContext("sys", "Tell me a story.", 64))
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	text, err := llm.Collect(context.Background(), stream)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if text != "Once upon a time." {
		t.Fatalf("expected story text, got %q", text)
	}
	if !got.Stream || got.Model != "gpt-4" || got.MaxTokens != 64 || len(got.Messages) != 2 {
		t.Fatalf("unexpected request %+v", got)
	}
}

func TestAdapterRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	a := NewAdapter("key", "gpt-4")
	a.BaseURL = srv.URL
	_, err := a.Stream(context.Background(), llm.Context{})
	if !resilience.IsRateLimit(err) {
		t.Fatalf("expected rate limit error, got %v", err)
	}
	if !errorsx.HasReason(err, errorsx.ReasonSourceRateLimit) {
		t.Fatalf("expected source rate limit reason, got %q", errorsx.Reason(err))
	}
}

func TestAdapterStreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Once\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"error\":{\"message\":\"overloaded\"}}\n\n")
	}))
	defer srv.Close()

	a := NewAdapter("key", "gpt-4")
	a.BaseURL = srv.URL
	stream, err := a.Stream(context.Background(), llm.Context{})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	text, err := llm.Collect(context.Background(), stream)
	if err == nil || text != "Once" {
		t.Fatalf("expected partial text then error, got %q %v", text, err)
	}
	if !errorsx.HasReason(err, errorsx.ReasonSourceStream) {
		t.Fatalf("expected stream reason, got %q", errorsx.Reason(err))
	}
}

func TestAdapterRejectsMalformedChunk(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Once upon\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\" a ti\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"me.\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	a := NewAdapter("key", "gpt-4")
	a.BaseURL = srv.URL
	stream, err := a.Stream(context.Background(), llm.Context{})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	text, err := llm.Collect(context.Background(), stream)
	if text != "Once upon" {
		t.Fatalf("expected text up to the bad chunk, got %q", text)
	}
	if !errorsx.HasReason(err, errorsx.ReasonSourceStream) {
		t.Fatalf("expected stream reason, got %v", err)
	}
}

func TestAdapterTruncatedStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Once upon\"}}]}\n\n")
	}))
	defer srv.Close()

	a := NewAdapter("key", "gpt-4")
	a.BaseURL = srv.URL
	stream, err := a.Stream(context.Background(), llm.Context{})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	text, err := llm.Collect(context.Background(), stream)
	if text != "Once upon" {
		t.Fatalf("expected partial text, got %q", text)
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) || !errorsx.HasReason(err, errorsx.ReasonSourceStream) {
		t.Fatalf("expected unexpected EOF with stream reason, got %v", err)
	}
}

func TestAdapterFinishReasonWithoutDone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"The End.\"},\"finish_reason\":\"stop\"}]}\n\n")
	}))
	defer srv.Close()

	a := NewAdapter("key", "gpt-4")
	a.BaseURL = srv.URL
	stream, err := a.Stream(context.Background(), llm.Context{})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	text, err := llm.Collect(context.Background(), stream)
	if err != nil || text != "The End." {
		t.Fatalf("expected clean end, got %q %v", text, err)
	}
}

func TestSpeechSynthesize(t *testing.T) {
	var got speechRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/speech" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		_, _ = w.Write([]byte("RIFFdata"))
	}))
	defer srv.Close()

	s := NewSpeech("key")
	s.BaseURL = srv.URL
	audio, err := s.Synthesize(context.Background(), "Hello.", tts.Voice{})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if string(audio) != "RIFFdata" {
		t.Fatalf("unexpected audio %q", audio)
	}
	if got.Voice != "nova" || got.Model != "tts-1" || got.ResponseFormat != "wav" || got.Input != "Hello." {
		t.Fatalf("unexpected request %+v", got)
	}
}

func TestImagesGenerateDownloadsURL(t *testing.T) {
	var got imageRequest
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/images/generations":
			if r.Header.Get("Authorization") != "Bearer key" {
				t.Errorf("missing auth header")
			}
			_ = json.NewDecoder(r.Body).Decode(&got)
			fmt.Fprintf(w, `{"data":[{"url":%q}]}`, srv.URL+"/files/cover.png")
		case "/files/cover.png":
			_, _ = w.Write([]byte("PNGDATA"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	g := NewImages("key")
	g.BaseURL = srv.URL
	img, err := g.Generate(context.Background(), "a fox in the moonlight", "")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if string(img) != "PNGDATA" {
		t.Fatalf("expected downloaded image, got %q", img)
	}
	if got.Prompt != "a fox in the moonlight" || got.N != 1 || got.Size != "1024x1024" || got.ResponseFormat != "url" || got.User != "storyteller" {
		t.Fatalf("unexpected request %+v", got)
	}
}

func TestImagesGenerateErrors(t *testing.T) {
	limited := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer limited.Close()
	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[]}`)
	}))
	defer empty.Close()

	g := NewImages("key")
	g.BaseURL = limited.URL
	if _, err := g.Generate(context.Background(), "x", ""); !resilience.IsRateLimit(err) {
		t.Fatalf("expected rate limit, got %v", err)
	}
	g.BaseURL = empty.URL
	if _, err := g.Generate(context.Background(), "x", ""); err == nil {
		t.Fatalf("expected error for empty data")
	}
}
