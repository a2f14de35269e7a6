package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultImageSize is the square cover size the story CLI asks for.
const DefaultImageSize = "1024x1024"

// Images calls /images/generations and downloads the single result.
type Images struct {
	APIKey  string
	BaseURL string
	Client  *http.Client
	// User is sent as the end-user tag.
	User string
}

func NewImages(apiKey string) *Images {
	return &Images{
		APIKey:  apiKey,
		BaseURL: DefaultBaseURL,
		Client:  &http.Client{Timeout: 2 * time.Minute},
		User:    "storyteller",
	}
}

type imageRequest struct {
	Prompt         string `json:"prompt"`
	N              int    `json:"n"`
	Size           string `json:"size"`
	ResponseFormat string `json:"response_format"`
	User           string `json:"user,omitempty"`
}

type imageResponse struct {
	Data []struct {
		URL     string `json:"url"`
		B64JSON string `json:"b64_json"`
	} `json:"data"`
}

// Generate creates one image for prompt and returns its encoded bytes.
// An empty size means DefaultImageSize.
func (g *Images) Generate(ctx context.Context, prompt, size string) ([]byte, error) {
	if size == "" {
		size = DefaultImageSize
	}
	b, err := json.Marshal(imageRequest{Prompt: prompt, N: 1, Size: size, ResponseFormat: "url", User: g.User})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.BaseURL+"/images/generations", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	applyHeaders(req, g.APIKey)
	resp, err := client(g.Client).Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	var out imageResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode image response: %w", err)
	}
	if len(out.Data) != 1 {
		return nil, fmt.Errorf("openai: expected 1 image, got %d", len(out.Data))
	}
	img := out.Data[0]
	switch {
	case img.URL != "":
		return g.download(ctx, img.URL)
	case img.B64JSON != "":
		return base64.StdEncoding.DecodeString(img.B64JSON)
	}
	return nil, errors.New("openai: image response carried neither url nor data")
}

func (g *Images) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client(g.Client).Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download image: %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}
