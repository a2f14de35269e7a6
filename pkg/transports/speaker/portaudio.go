package speaker

import (
	"context"
	"fmt"

	"github.com/gordonklaus/portaudio"

	"github.com/harunnryd/storyteller/pkg/audio"
)

const DefaultFramesPerBuffer = 1024

// PortaudioOutput writes samples to the default output device. The stream
// is reopened only when the clip format changes.
type PortaudioOutput struct {
	framesPerBuffer int
	stream          *portaudio.Stream
	buffer          []int16
	format          audio.Format
}

// NewPortaudioOutput initializes portaudio; Close terminates it.
func NewPortaudioOutput(framesPerBuffer int) (*PortaudioOutput, error) {
	if framesPerBuffer <= 0 {
		framesPerBuffer = DefaultFramesPerBuffer
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init: %w", err)
	}
	return &PortaudioOutput{framesPerBuffer: framesPerBuffer}, nil
}

func (p *PortaudioOutput) open(f audio.Format) error {
	if p.stream != nil && p.format == f {
		return nil
	}
	if err := p.closeStream(); err != nil {
		return err
	}
	p.buffer = make([]int16, p.framesPerBuffer*f.Channels)
	stream, err := portaudio.OpenDefaultStream(0, f.Channels, float64(f.SampleRate), p.framesPerBuffer, p.buffer)
	if err != nil {
		return fmt.Errorf("portaudio open: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return fmt.Errorf("portaudio start: %w", err)
	}
	p.stream = stream
	p.format = f
	return nil
}

func (p *PortaudioOutput) Play(ctx context.Context, f audio.Format, samples []int16) error {
	if err := p.open(f); err != nil {
		return err
	}
	for off := 0; off < len(samples); off += len(p.buffer) {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := copy(p.buffer, samples[off:])
		for i := n; i < len(p.buffer); i++ {
			p.buffer[i] = 0
		}
		if err := p.stream.Write(); err != nil {
			return fmt.Errorf("portaudio write: %w", err)
		}
	}
	return nil
}

func (p *PortaudioOutput) closeStream() error {
	if p.stream == nil {
		return nil
	}
	_ = p.stream.Stop()
	err := p.stream.Close()
	p.stream = nil
	return err
}

func (p *PortaudioOutput) Close() error {
	err := p.closeStream()
	portaudio.Terminate()
	return err
}
