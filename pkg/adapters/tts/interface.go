package tts

import (
	"context"
)

// Backend defines the contract for any speech synthesis vendor.
// Each call is independent and returns one self-headered clip for text.
type Backend interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Synthesize performs one outbound request for text.
	Synthesize(ctx context.Context, text string, voice Voice) ([]byte, error)
}

// Voice contains vendor-agnostic voice and format selection.
type Voice struct {
	Name       string
	Language   string
	Gender     string
	Model      string
	Format     string
	SampleRate int
	Speed      float64
	Pitch      float64
}

// Merge fills zero fields of v from defaults.
func (v Voice) Merge(defaults Voice) Voice {
	if v.Name == "" {
		v.Name = defaults.Name
	}
	if v.Language == "" {
		v.Language = defaults.Language
	}
	if v.Gender == "" {
		v.Gender = defaults.Gender
	}
	if v.Model == "" {
		v.Model = defaults.Model
	}
	if v.Format == "" {
		v.Format = defaults.Format
	}
	if v.SampleRate == 0 {
		v.SampleRate = defaults.SampleRate
	}
	if v.Speed == 0 {
		v.Speed = defaults.Speed
	}
	if v.Pitch == 0 {
		v.Pitch = defaults.Pitch
	}
	return v
}

// BackendFunc adapts a function to Backend.
type BackendFunc struct {
	ID string
	Fn func(ctx context.Context, text string, voice Voice) ([]byte, error)
}

func (b BackendFunc) Name() string { return b.ID }

func (b BackendFunc) Synthesize(ctx context.Context, text string, voice Voice) ([]byte, error) {
	return b.Fn(ctx, text, voice)
}
