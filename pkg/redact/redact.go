// Package redact scrubs credentials and personal data from text that leaves
// the process: logs, error messages, published events.
package redact

import (
	"regexp"
	"strings"
	"sync/atomic"
)

var piiEnabled atomic.Bool

var (
	emailRe  = regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`)
	phoneRe  = regexp.MustCompile(`\b\+?\d[\d\s\-]{7,}\d\b`)
	bearerRe = regexp.MustCompile(`(?i)\bbearer\s+[a-z0-9._~+/\-]+=*`)
	skKeyRe  = regexp.MustCompile(`\bsk-[A-Za-z0-9_\-*]{8,}`)
	paramRe  = regexp.MustCompile(`(?i)\b(api[_-]?key|key|token|access_token|xi-api-key)=([^&\s"]+)`)
)

// SetPII toggles redaction of emails and phone numbers in story text.
func SetPII(v bool) {
	piiEnabled.Store(v)
}

func PIIEnabled() bool {
	return piiEnabled.Load()
}

// Text redacts emails and phone numbers when PII redaction is on.
func Text(in string) string {
	if !piiEnabled.Load() || strings.TrimSpace(in) == "" {
		return in
	}
	out := emailRe.ReplaceAllString(in, "[REDACTED_EMAIL]")
	out = phoneRe.ReplaceAllString(out, "[REDACTED_PHONE]")
	return out
}

// Secrets always removes bearer tokens, API keys and key-like query
// parameters. Vendors echo rejected keys back in their error bodies.
func Secrets(in string) string {
	if in == "" {
		return in
	}
	out := bearerRe.ReplaceAllString(in, "Bearer [REDACTED]")
	out = skKeyRe.ReplaceAllString(out, "[REDACTED_KEY]")
	out = paramRe.ReplaceAllString(out, "$1=[REDACTED]")
	return out
}

// Error returns the scrubbed message of err, or "" for nil.
func Error(err error) string {
	if err == nil {
		return ""
	}
	return Text(Secrets(err.Error()))
}

// Wrap keeps err for errors.Is/As while scrubbing its message.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	msg := Error(err)
	if msg == err.Error() {
		return err
	}
	return &scrubbed{msg: msg, err: err}
}

type scrubbed struct {
	msg string
	err error
}

func (s *scrubbed) Error() string { return s.msg }
func (s *scrubbed) Unwrap() error { return s.err }

