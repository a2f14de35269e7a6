package speaker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/harunnryd/storyteller/pkg/audio"
	"github.com/harunnryd/storyteller/pkg/errorsx"
	"github.com/harunnryd/storyteller/pkg/frames"
)

type fakeOutput struct {
	mu     sync.Mutex
	clips  [][]int16
	delay  time.Duration
	closed bool
}

func (f *fakeOutput) Play(ctx context.Context, format audio.Format, samples []int16) error {
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.delay):
		}
	}
	f.mu.Lock()
	f.clips = append(f.clips, samples)
	f.mu.Unlock()
	return nil
}

func (f *fakeOutput) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeOutput) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clips)
}

func wav(t *testing.T, samples ...int16) []byte {
	t.Helper()
	pcm := make([]byte, 0, len(samples)*2)
	for _, s := range samples {
		pcm = append(pcm, byte(s), byte(uint16(s)>>8))
	}
	b, err := audio.EncodeWAV(pcm, audio.DefaultFormat)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return b
}

func TestSpeakerPlaysInOrderAndWaits(t *testing.T) {
	out := &fakeOutput{delay: 5 * time.Millisecond}
	s := New(out)
	for i := int16(1); i <= 3; i++ {
		if err := s.Write(context.Background(), frames.Chunk{Index: int(i), Clip: wav(t, i)}); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	s.Wait()
	if out.count() != 3 {
		t.Fatalf("expected 3 clips played, got %d", out.count())
	}
	for i, c := range out.clips {
		if c[0] != int16(i+1) {
			t.Fatalf("expected clip %d in order, got sample %d", i, c[0])
		}
	}
	if err := s.Close(nil); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !out.closed {
		t.Fatalf("expected output closed")
	}
	err := s.Append(wav(t, 1))
	if !errorsx.HasReason(err, errorsx.ReasonSinkClosed) {
		t.Fatalf("expected closed sink error, got %v", err)
	}
}

func TestSpeakerSkipsUndecodableClip(t *testing.T) {
	out := &fakeOutput{}
	s := New(out)
	_ = s.Append([]byte("garbage"))
	_ = s.Append(wav(t, 7))
	s.Wait()
	played, failed := s.Stats()
	if played != 1 || failed != 1 {
		t.Fatalf("expected one played and one failed, got %d/%d", played, failed)
	}
	_ = s.Close(nil)
}

func TestSpeakerCloseOnFailureDropsQueue(t *testing.T) {
	out := &fakeOutput{delay: 200 * time.Millisecond}
	s := New(out)
	for i := 0; i < 5; i++ {
		_ = s.Append(wav(t, 1))
	}
	start := time.Now()
	_ = s.Close(errors.New("story failed"))
	if time.Since(start) > 150*time.Millisecond {
		t.Fatalf("expected close on failure to stop promptly")
	}
	if out.count() == 5 {
		t.Fatalf("expected queued clips to be dropped")
	}
}

func TestFileOutputWritesWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "story.wav")
	s := New(NewFileOutput(path))
	_ = s.Append(wav(t, 1, 2))
	_ = s.Append(wav(t, 3))
	if err := s.Close(nil); err != nil {
		t.Fatalf("close: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	_, pcm, err := audio.DecodeWAV(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got := audio.Samples16(pcm)
	if len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Fatalf("unexpected samples %v", got)
	}
}
