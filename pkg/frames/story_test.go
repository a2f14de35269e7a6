package frames

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestUtteranceSpeechStripsSentinel(t *testing.T) {
	u := Utterance{Raw: " Once upon a time.~", Sentinel: "~"}
	if got := u.Speech(); got != "Once upon a time." {
		t.Fatalf("expected sentinel stripped, got %q", got)
	}
	u = Utterance{Raw: "~\n"}
	if u.Speech() != "~" {
		t.Fatalf("expected marker kept without sentinel config, got %q", u.Speech())
	}
	u.Sentinel = "~"
	if !u.Empty() {
		t.Fatalf("expected sentinel-only utterance to be empty")
	}
}

func TestStoryChunkEncodesAudioAsBase64(t *testing.T) {
	b, err := json.Marshal(StoryChunk{Text: "Hi.", Audio: []byte{0x52, 0x49, 0x46, 0x46}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(b), `"audio":"UklGRg=="`) {
		t.Fatalf("expected base64 audio, got %s", b)
	}
	if strings.Contains(string(b), "done") {
		t.Fatalf("expected done omitted, got %s", b)
	}
}
