package frames

import "strings"

// Meta keys shared by log fields, metric tags and published events.
const (
	MetaSessionID = "session_id"
	MetaIndex     = "utterance_index"
	MetaProvider  = "provider"
	MetaSink      = "sink"
)

// Utterance is one break-terminated unit of story text handed to synthesis.
// Break names the rule that ended it and Forced is set when the length budget
// chose it rather than a sentence terminator.
// Raw is exactly the text taken out of the segmenter buffer, so concatenating
// the Raw of every utterance reproduces the token stream.
type Utterance struct {
	Index    int
	Raw      string
	Break    string
	Forced   bool
	Final    bool
	Sentinel string
}

// Speech returns the text to synthesize: trimmed, with sentinel markers removed.
// An empty result means synthesis is skipped.
func (u Utterance) Speech() string {
	text := u.Raw
	if u.Sentinel != "" {
		text = strings.ReplaceAll(text, u.Sentinel, "")
	}
	return strings.TrimSpace(text)
}

// Empty reports whether the utterance has nothing to say.
func (u Utterance) Empty() bool { return u.Speech() == "" }

// Clip is the self-headered audio returned by one synthesis call.
type Clip struct {
	Index    int
	Text     string
	Audio    []byte
	Provider string
	Attempts int
}

// Chunk is what a sink receives per synthesized utterance. Clip keeps the
// clip's own container header; Stream is the assembler output that continues
// the session byte stream.
type Chunk struct {
	Index  int
	Text   string
	Clip   []byte
	Stream []byte
}

// StoryChunk is the JSON message sent to chunk-oriented transports.
// Audio is base64 encoded by encoding/json.
type StoryChunk struct {
	Text  string `json:"text,omitempty"`
	Audio []byte `json:"audio,omitempty"`
	Done  bool   `json:"done,omitempty"`
	Error string `json:"error,omitempty"`
}
