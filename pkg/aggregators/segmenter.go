package aggregators

import (
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/harunnryd/storyteller/pkg/errorsx"
	"github.com/harunnryd/storyteller/pkg/frames"
	"github.com/harunnryd/storyteller/pkg/logging"
)

// Segmenter turns an irregular token stream into utterances.
// It is owned by a single producer and is not safe for concurrent use.
type Segmenter struct {
	cfg    Config
	buf    string
	next   int
	forced int
	cuts   int
	logger *slog.Logger
}

func NewSegmenter(cfg Config) *Segmenter {
	if cfg.Terminators == "" {
		cfg.Terminators = DefaultTerminators
	}
	return &Segmenter{
		cfg:    cfg,
		logger: logging.NewComponentLogger(slog.Default(), "segmenter"),
	}
}

// SetLogger configures structured logging for the segmenter.
func (s *Segmenter) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logging.NewComponentLogger(logger, "segmenter")
	}
}

func (s *Segmenter) Name() string { return "segmenter" }

func (s *Segmenter) Config() Config { return s.cfg }

// Push appends tok to the buffer and returns every utterance it completes,
// in order. Most pushes return nil.
func (s *Segmenter) Push(tok string) []frames.Utterance {
	if tok == "" {
		return nil
	}
	s.buf += tok
	return s.drain()
}

// Flush is called once after the token source ends. It returns the
// utterances still held in the buffer; the last one carries Final. An empty
// buffer yields nothing.
func (s *Segmenter) Flush() []frames.Utterance {
	out := s.drain()
	if s.buf != "" {
		u := s.emit(len(s.buf), BreakFlush)
		out = append(out, u)
	}
	if n := len(out); n > 0 {
		out[n-1].Final = true
	}
	return out
}

// Pending returns the buffered text not yet emitted.
func (s *Segmenter) Pending() string { return s.buf }

// Stats returns the number of utterances emitted, forced and hard cut.
func (s *Segmenter) Stats() (emitted, forced, hardCuts int) {
	return s.next, s.forced, s.cuts
}

func (s *Segmenter) drain() []frames.Utterance {
	var out []frames.Utterance
	for s.buf != "" {
		cut, kind := s.findBreak(s.buf)
		if cut <= 0 {
			break
		}
		out = append(out, s.emit(cut, kind))
	}
	return out
}

func (s *Segmenter) emit(cut int, kind string) frames.Utterance {
	u := frames.Utterance{
		Index:    s.next,
		Raw:      s.buf[:cut],
		Break:    kind,
		Forced:   kind != BreakTerminator && kind != BreakFlush,
		Sentinel: s.cfg.Sentinel,
	}
	s.buf = s.buf[cut:]
	s.next++
	if u.Forced {
		s.forced++
	}
	if kind == BreakHardCut {
		s.cuts++
		s.logger.Debug("segment hard cut",
			slog.Int("utterance_index", u.Index),
			slog.Int("max_chars", s.cfg.MaxChars),
			slog.String("reason_code", string(errorsx.ReasonSegmentHardCut)))
	}
	return u
}

// findBreak returns the exclusive end of the next utterance in text, or 0
// when more tokens are needed.
func (s *Segmenter) findBreak(text string) (int, string) {
	max := s.cfg.MaxChars
	if max <= 0 || len(text) <= max {
		var i int
		if s.cfg.Policy == PolicyFirst {
			i = strings.IndexAny(text, s.cfg.Terminators)
		} else {
			i = strings.LastIndexAny(text, s.cfg.Terminators)
		}
		if i < 0 {
			return 0, ""
		}
		return through(text, i), BreakTerminator
	}

	window := text[:runeFloor(text, max)]
	if s.cfg.Policy == PolicyFirst {
		if i := strings.IndexAny(window, s.cfg.Terminators); i >= 0 {
			return through(window, i), BreakTerminator
		}
	}
	lastSpace := strings.LastIndexByte(window, ' ')
	if lastSpace < 0 {
		return len(window), BreakHardCut
	}
	window = window[:lastSpace]

	if i := strings.LastIndexAny(window, s.cfg.Terminators); i >= 0 {
		return through(window, i), BreakTerminator
	}
	if s.cfg.Secondary != "" {
		if i := strings.LastIndexAny(window, s.cfg.Secondary); i >= 0 {
			return through(window, i), BreakSecondary
		}
	}
	if s.cfg.Conjunction != "" {
		if i := strings.LastIndex(window, s.cfg.Conjunction); i >= 0 {
			return i + 1, BreakConjunction
		}
	}
	if i := strings.LastIndexByte(window, ' '); i >= 0 {
		return i + 1, BreakSpace
	}
	return lastSpace + 1, BreakSpace
}

// through returns the index just past the rune starting at i.
func through(text string, i int) int {
	_, size := utf8.DecodeRuneInString(text[i:])
	return i + size
}

// runeFloor returns the largest rune boundary <= n, but never 0 for a
// non-empty text.
func runeFloor(text string, n int) int {
	if n >= len(text) {
		return len(text)
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	if cut == 0 {
		_, size := utf8.DecodeRuneInString(text)
		return size
	}
	return cut
}
