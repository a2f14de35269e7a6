package metrics

import "time"

// Event names emitted by the narration pipeline.
const (
	EventSessionStart  = "session_start"
	EventSessionEnd    = "session_end"
	EventSessionFailed = "session_failed"
	EventFirstToken    = "llm_first_token"
	EventSourceDone    = "llm_done"
	EventUtterance     = "utterance"
	EventSynthAttempt  = "tts_attempt"
	EventSynthDone     = "tts_done"
	EventSynthRetry    = "tts_retry"
	EventSynthSkipped  = "tts_skipped"
	EventFirstAudio    = "tts_first_audio"
	EventAudioBytes    = "audio_bytes"
	EventRateLimit     = "rate_limit"
	EventBreakerOpen   = "breaker_open"
	EventBreakerClose  = "breaker_close"
	EventBreakerDenied = "breaker_denied"
)

// Tag keys.
const (
	TagSessionID = "session_id"
	TagProvider  = "provider"
	TagComponent = "component"
	TagForced    = "forced"
	TagBreak     = "break"
	TagStage     = "stage"
)

// Emit records a named event with tags; a nil observer is ignored.
func Emit(obs Observer, name string, value float64, tags map[string]string) {
	if obs == nil {
		return
	}
	obs.RecordEvent(MetricsEvent{Name: name, Time: time.Now(), Value: value, Tags: tags})
}
