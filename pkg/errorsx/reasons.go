package errorsx

import "strings"

// ReasonCode is a short machine-readable error reason. Its prefix names the
// stage it belongs to.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonSourceConnect   ReasonCode = "source_connect"
	ReasonSourceStream    ReasonCode = "source_stream"
	ReasonSourceRateLimit ReasonCode = "source_rate_limit"

	ReasonSegmentHardCut ReasonCode = "segment_hard_cut"

	ReasonSynthBackend     ReasonCode = "synth_backend"
	ReasonSynthTimeout     ReasonCode = "synth_timeout"
	ReasonSynthRetry       ReasonCode = "synth_retry"
	ReasonSynthRateLimit   ReasonCode = "synth_rate_limit"
	ReasonSynthCircuitOpen ReasonCode = "synth_circuit_open"

	ReasonAssembleShortClip ReasonCode = "assemble_short_clip"
	ReasonAssembleFormat    ReasonCode = "assemble_format"

	ReasonSinkWrite  ReasonCode = "sink_write"
	ReasonSinkClosed ReasonCode = "sink_closed"
)

// Stage derives the pipeline stage from the reason prefix.
func (r ReasonCode) Stage() Stage {
	prefix, _, _ := strings.Cut(string(r), "_")
	switch Stage(prefix) {
	case StageSource, StageSegment, StageSynth, StageAssemble, StageSink:
		return Stage(prefix)
	}
	return StageUnknown
}

// RateLimited reports whether the reason is a vendor throttle.
func (r ReasonCode) RateLimited() bool {
	return strings.HasSuffix(string(r), "_rate_limit")
}
