package aggregators

import "strings"

// Policy selects where the segmenter looks for a natural break.
type Policy int

const (
	// PolicyTail breaks at the last terminator in the buffer, batching every
	// complete sentence that has arrived.
	PolicyTail Policy = iota
	// PolicyFirst breaks at the first terminator anywhere in the buffer.
	PolicyFirst
)

func (p Policy) String() string {
	if p == PolicyFirst {
		return "first"
	}
	return "tail"
}

// ParsePolicy maps "first" to PolicyFirst and anything else to PolicyTail.
func ParsePolicy(v string) Policy {
	if strings.EqualFold(strings.TrimSpace(v), "first") {
		return PolicyFirst
	}
	return PolicyTail
}

// Break labels recorded on utterances.
const (
	BreakTerminator  = "terminator"
	BreakSecondary   = "secondary"
	BreakConjunction = "conjunction"
	BreakSpace       = "space"
	BreakHardCut     = "hard_cut"
	BreakFlush       = "flush"
)

// Config controls segmentation. MaxChars <= 0 disables forced breaks.
// Empty Secondary or Conjunction disables that tier.
type Config struct {
	MaxChars    int
	Policy      Policy
	Terminators string
	Secondary   string
	Conjunction string
	Sentinel    string
}

const (
	DefaultTerminators = ".?!\n"
	DefaultSecondary   = ",;:\""
	DefaultConjunction = " and "
	DefaultSentinel    = "~"
)

// DefaultConfig is the batch narration preset.
func DefaultConfig() Config {
	return Config{
		MaxChars:    1000,
		Policy:      PolicyTail,
		Terminators: DefaultTerminators,
		Secondary:   DefaultSecondary,
		Conjunction: DefaultConjunction,
		Sentinel:    DefaultSentinel,
	}
}

// LowLatencyConfig is the interactive playback preset.
func LowLatencyConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxChars = 100
	return cfg
}

// PromptedConfig breaks on the sentinel the story prompt asks the model to
// emit after every sentence.
func PromptedConfig() Config {
	cfg := DefaultConfig()
	cfg.Policy = PolicyFirst
	cfg.Terminators = DefaultSentinel + "\n"
	return cfg
}
