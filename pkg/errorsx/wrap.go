package errorsx

import "errors"

// Reasoner is implemented by errors that carry their own reason code.
type Reasoner interface {
	Reason() ReasonCode
}

type reasonedError struct {
	err    error
	reason ReasonCode
}

func (e *reasonedError) Error() string {
	if e.err == nil {
		return string(e.reason)
	}
	return e.err.Error()
}

func (e *reasonedError) Unwrap() error      { return e.err }
func (e *reasonedError) Reason() ReasonCode { return e.reason }

// Wrap tags err with reason. The first reason attached to a chain wins, so
// an outer retry or stage wrapper never hides the root cause.
func Wrap(err error, reason ReasonCode) error {
	if err == nil {
		return nil
	}
	var r Reasoner
	if errors.As(err, &r) {
		return err
	}
	return &reasonedError{err: err, reason: reason}
}

// Reason returns the reason code carried by err, or ReasonUnknown.
func Reason(err error) ReasonCode {
	var r Reasoner
	if err != nil && errors.As(err, &r) {
		return r.Reason()
	}
	return ReasonUnknown
}

func HasReason(err error, reason ReasonCode) bool {
	return Reason(err) == reason
}
