package httpapi

import (
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/harunnryd/storyteller/pkg/errorsx"
	"github.com/harunnryd/storyteller/pkg/pipeline"
	"github.com/harunnryd/storyteller/pkg/redact"
)

func withSentryRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				hub := sentry.CurrentHub().Clone()
				hub.Scope().SetRequest(req)
				hub.RecoverWithContext(req.Context(), err)
				hub.Flush(2 * time.Second)
				http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, req)
	})
}

func captureError(req *http.Request, err error, msg string) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetRequest(req)
		scope.SetExtra("message", msg)
		sentry.CaptureException(err)
	})
}

// SentryListener reports failed sessions to Sentry. It is a no-op until
// sentry.Init has been called with a DSN.
type SentryListener struct {
	hub *sentry.Hub
}

func NewSentryListener(hub *sentry.Hub) *SentryListener {
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	return &SentryListener{hub: hub}
}

// OnStateChange implements pipeline.StateListener.
func (l *SentryListener) OnStateChange(ev pipeline.StateChange) {
	if ev.To != pipeline.StateFailed || ev.Err == nil {
		return
	}
	l.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("session_id", ev.SessionID)
		scope.SetTag("stage", string(errorsx.StageOf(ev.Err)))
		scope.SetTag("reason_code", string(errorsx.Reason(ev.Err)))
		scope.SetExtra("reason", ev.Reason)
		l.hub.CaptureException(redact.Wrap(ev.Err))
	})
}

var _ pipeline.StateListener = (*SentryListener)(nil)
