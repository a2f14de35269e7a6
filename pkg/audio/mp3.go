package audio

import (
	"bytes"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
)

// DecodeMP3 decodes an MP3 clip to 16-bit stereo PCM.
func DecodeMP3(b []byte) (Format, []byte, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(b))
	if err != nil {
		return Format{}, nil, fmt.Errorf("mp3 decode: %w", err)
	}
	pcm, err := io.ReadAll(dec)
	if err != nil {
		return Format{}, nil, fmt.Errorf("mp3 read: %w", err)
	}
	return Format{SampleRate: dec.SampleRate(), Channels: 2, BitsPerSample: 16}, pcm, nil
}

// IsMP3 reports whether b looks like an MP3 stream (ID3 tag or frame sync).
func IsMP3(b []byte) bool {
	if len(b) >= 3 && string(b[:3]) == "ID3" {
		return true
	}
	return len(b) >= 2 && b[0] == 0xFF && b[1]&0xE0 == 0xE0
}

// DecodeClip decodes a WAV or MP3 clip into PCM.
func DecodeClip(b []byte) (Format, []byte, error) {
	switch {
	case IsWAV(b):
		return DecodeWAV(b)
	case IsMP3(b):
		return DecodeMP3(b)
	default:
		return Format{}, nil, ErrUnsupported
	}
}
