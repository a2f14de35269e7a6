package audio

import (
	"fmt"

	"github.com/harunnryd/storyteller/pkg/errorsx"
)

// streamingLength marks a length field as unknown.
var streamingLength = [4]byte{0xFF, 0xFF, 0xFF, 0xFF}

// Assembler stitches per-utterance WAV clips into one continuous stream.
// The first clip keeps its header with both length fields set to the
// streaming sentinel; later clips lose their header. One Assembler serves
// exactly one session and is not safe for concurrent use.
type Assembler struct {
	headerSize int
	first      bool
	clips      int
	written    int64
}

func NewAssembler() *Assembler {
	return NewAssemblerWithHeader(HeaderSize)
}

// NewAssemblerWithHeader is for encodings whose fixed header differs from
// the canonical 44 bytes. The length-field offsets stay the same.
func NewAssemblerWithHeader(size int) *Assembler {
	if size < dataSizeOffset+4 {
		size = HeaderSize
	}
	return &Assembler{headerSize: size, first: true}
}

// Add returns the bytes to append to the output stream for clip.
// The returned slice may alias clip.
func (a *Assembler) Add(clip []byte) ([]byte, error) {
	if len(clip) < a.headerSize {
		err := fmt.Errorf("clip of %d bytes is shorter than the %d byte header", len(clip), a.headerSize)
		return nil, errorsx.Wrap(err, errorsx.ReasonAssembleShortClip)
	}
	if !IsWAV(clip) {
		return nil, errorsx.Wrap(ErrNotWAV, errorsx.ReasonAssembleFormat)
	}
	var out []byte
	if a.first {
		out = make([]byte, len(clip))
		copy(out, clip)
		copy(out[riffSizeOffset:riffSizeOffset+4], streamingLength[:])
		copy(out[dataSizeOffset:dataSizeOffset+4], streamingLength[:])
		a.first = false
	} else {
		out = clip[a.headerSize:]
	}
	a.clips++
	a.written += int64(len(out))
	return out, nil
}

// Started reports whether the header has been emitted.
func (a *Assembler) Started() bool { return !a.first }

// Clips returns how many clips were added.
func (a *Assembler) Clips() int { return a.clips }

// Written returns the total bytes emitted so far.
func (a *Assembler) Written() int64 { return a.written }
