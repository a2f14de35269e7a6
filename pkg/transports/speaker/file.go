package speaker

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/harunnryd/storyteller/pkg/audio"
)

// FileOutput collects everything played into a single WAV file, for hosts
// without an audio device. All clips must share one format.
type FileOutput struct {
	path   string
	format audio.Format
	pcm    []byte
}

func NewFileOutput(path string) *FileOutput {
	return &FileOutput{path: path}
}

func (o *FileOutput) Play(ctx context.Context, f audio.Format, samples []int16) error {
	if o.format == (audio.Format{}) {
		o.format = f
	} else if o.format != f {
		return fmt.Errorf("format changed from %+v to %+v", o.format, f)
	}
	buf := make([]byte, len(samples)*2)
	for i, v := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	o.pcm = append(o.pcm, buf...)
	return nil
}

func (o *FileOutput) Close() error {
	if o.format == (audio.Format{}) {
		o.format = audio.DefaultFormat
	}
	b, err := audio.EncodeWAV(o.pcm, o.format)
	if err != nil {
		return err
	}
	return os.WriteFile(o.path, b, 0o644)
}
