package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is the length of a canonical RIFF/WAVE PCM header.
const HeaderSize = 44

// Offsets of the length fields rewritten for streaming.
const (
	riffSizeOffset = 4
	dataSizeOffset = 40
)

// Format describes interleaved little-endian PCM.
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// DefaultFormat matches the 24 kHz mono LINEAR16 voices the backends request.
var DefaultFormat = Format{SampleRate: 24000, Channels: 1, BitsPerSample: 16}

func (f Format) blockAlign() int { return f.Channels * f.BitsPerSample / 8 }

func (f Format) byteRate() int { return f.SampleRate * f.blockAlign() }

func (f Format) validate() error {
	if f.SampleRate <= 0 || f.Channels <= 0 || f.BitsPerSample <= 0 || f.BitsPerSample%8 != 0 {
		return fmt.Errorf("invalid pcm format %+v", f)
	}
	return nil
}

// EncodeWAV prefixes pcm with a canonical 44-byte header.
func EncodeWAV(pcm []byte, f Format) ([]byte, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}
	out := make([]byte, HeaderSize+len(pcm))
	copy(out[0:], "RIFF")
	binary.LittleEndian.PutUint32(out[4:], uint32(36+len(pcm)))
	copy(out[8:], "WAVE")
	copy(out[12:], "fmt ")
	binary.LittleEndian.PutUint32(out[16:], 16)
	binary.LittleEndian.PutUint16(out[20:], 1)
	binary.LittleEndian.PutUint16(out[22:], uint16(f.Channels))
	binary.LittleEndian.PutUint32(out[24:], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(out[28:], uint32(f.byteRate()))
	binary.LittleEndian.PutUint16(out[32:], uint16(f.blockAlign()))
	binary.LittleEndian.PutUint16(out[34:], uint16(f.BitsPerSample))
	copy(out[36:], "data")
	binary.LittleEndian.PutUint32(out[40:], uint32(len(pcm)))
	copy(out[HeaderSize:], pcm)
	return out, nil
}

var (
	ErrNotWAV      = errors.New("audio: not a RIFF/WAVE clip")
	ErrUnsupported = errors.New("audio: unsupported wav encoding")
)

// DecodeWAV walks the RIFF chunks and returns the PCM format and payload.
// Streaming sentinels in the length fields are tolerated: the data chunk
// then runs to the end of the buffer.
func DecodeWAV(b []byte) (Format, []byte, error) {
	if len(b) < 12 || !bytes.Equal(b[0:4], []byte("RIFF")) || !bytes.Equal(b[8:12], []byte("WAVE")) {
		return Format{}, nil, ErrNotWAV
	}
	var (
		f       Format
		haveFmt bool
	)
	pos := 12
	for pos+8 <= len(b) {
		id := string(b[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(b[pos+4 : pos+8]))
		body := pos + 8
		switch id {
		case "fmt ":
			if body+16 > len(b) {
				return Format{}, nil, ErrNotWAV
			}
			if tag := binary.LittleEndian.Uint16(b[body:]); tag != 1 && tag != 0xFFFE {
				return Format{}, nil, ErrUnsupported
			}
			f.Channels = int(binary.LittleEndian.Uint16(b[body+2:]))
			f.SampleRate = int(binary.LittleEndian.Uint32(b[body+4:]))
			f.BitsPerSample = int(binary.LittleEndian.Uint16(b[body+14:]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return Format{}, nil, ErrNotWAV
			}
			end := body + size
			if size < 0 || end > len(b) || uint32(size) == 0xFFFFFFFF {
				end = len(b)
			}
			return f, b[body:end], nil
		}
		if size < 0 || body+size > len(b) {
			break
		}
		pos = body + size + size%2
	}
	return Format{}, nil, ErrNotWAV
}

// IsWAV reports whether b starts with a RIFF/WAVE signature.
func IsWAV(b []byte) bool {
	return len(b) >= 12 && bytes.Equal(b[0:4], []byte("RIFF")) && bytes.Equal(b[8:12], []byte("WAVE"))
}

// Samples16 converts little-endian 16-bit PCM into samples.
func Samples16(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}
