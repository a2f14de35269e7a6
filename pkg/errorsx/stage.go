package errorsx

import (
	"errors"
	"fmt"
)

// Stage names the pipeline stage an error originated from.
type Stage string

const (
	StageUnknown  Stage = ""
	StageSource   Stage = "source"
	StageSegment  Stage = "segment"
	StageSynth    Stage = "synth"
	StageAssemble Stage = "assemble"
	StageSink     Stage = "sink"
)

// StageError carries the failing stage and utterance index (-1 when not tied to one).
type StageError struct {
	Stage Stage
	Index int
	Err   error
}

func (e *StageError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("%s stage (utterance %d): %v", e.Stage, e.Index, e.Err)
	}
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// NewStageError wraps err with stage context. Returns nil for a nil err and
// leaves errors that already carry a stage untouched.
func NewStageError(stage Stage, index int, err error) error {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	return &StageError{Stage: stage, Index: index, Err: err}
}

// StageOf returns the stage recorded on err. Errors never wrapped in a
// StageError fall back to the stage of their reason code.
func StageOf(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return Reason(err).Stage()
}
