// Package eventlog persists session lifecycle events to Postgres.
package eventlog

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/harunnryd/storyteller/pkg/errorsx"
	"github.com/harunnryd/storyteller/pkg/logging"
	"github.com/harunnryd/storyteller/pkg/pipeline"
	"github.com/harunnryd/storyteller/pkg/redact"
)

// EventType is the event_type column value.
type EventType string

const (
	EventSessionStarted  EventType = "session_started"
	EventSessionDraining EventType = "session_draining"
	EventSessionClosed   EventType = "session_closed"
	EventSessionFailed   EventType = "session_failed"
)

const schema = `
CREATE TABLE IF NOT EXISTS session_events (
	id BIGSERIAL PRIMARY KEY,
	session_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	event_data JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS session_events_session_id_idx ON session_events (session_id);
`

// Execer is satisfied by *pgxpool.Pool and pgx.Conn.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Logger writes session events. A Logger without a database drops
// everything silently.
type Logger struct {
	db      Execer
	pool    *pgxpool.Pool
	timeout time.Duration
	wg      sync.WaitGroup
	logger  *slog.Logger
}

func New(db Execer) *Logger {
	return &Logger{
		db:      db,
		timeout: 2 * time.Second,
		logger:  logging.NewComponentLogger(slog.Default(), "eventlog"),
	}
}

// Open connects to databaseURL and creates the schema. An empty URL yields
// a no-op Logger.
func Open(ctx context.Context, databaseURL string) (*Logger, error) {
	if databaseURL == "" {
		return New(nil), nil
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	l := New(pool)
	l.pool = pool
	if err := l.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	l.logger.Info("event log connected")
	return l, nil
}

func (l *Logger) Enabled() bool { return l.db != nil }

func (l *Logger) EnsureSchema(ctx context.Context) error {
	if l.db == nil {
		return nil
	}
	_, err := l.db.Exec(ctx, schema)
	return err
}

// Log writes one event synchronously.
func (l *Logger) Log(ctx context.Context, sessionID string, eventType EventType, data map[string]any) error {
	if l.db == nil || sessionID == "" {
		return nil
	}
	dataJSON, err := json.Marshal(data)
	if err != nil {
		dataJSON = []byte("{}")
	}
	_, err = l.db.Exec(ctx, `
		INSERT INTO session_events (session_id, event_type, event_data)
		VALUES ($1, $2, $3)
	`, sessionID, string(eventType), dataJSON)
	return err
}

// LogAsync writes an event without blocking the caller.
func (l *Logger) LogAsync(sessionID string, eventType EventType, data map[string]any) {
	if l.db == nil || sessionID == "" {
		return
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
		defer cancel()
		if err := l.Log(ctx, sessionID, eventType, data); err != nil {
			l.logger.Warn("event log write failed",
				slog.String("session_id", sessionID),
				slog.String("event_type", string(eventType)),
				slog.String("error", err.Error()))
		}
	}()
}

// OnStateChange implements pipeline.StateListener.
func (l *Logger) OnStateChange(ev pipeline.StateChange) {
	eventType, ok := eventFor(ev.To)
	if !ok {
		return
	}
	data := map[string]any{
		"from":   ev.From.String(),
		"reason": ev.Reason,
		"at":     ev.Time.UTC().Format(time.RFC3339Nano),
	}
	if ev.Err != nil {
		data["error"] = redact.Error(ev.Err)
		data["stage"] = string(errorsx.StageOf(ev.Err))
		data["reason_code"] = string(errorsx.Reason(ev.Err))
	}
	l.LogAsync(ev.SessionID, eventType, data)
}

// Wait blocks until pending async writes finish.
func (l *Logger) Wait() { l.wg.Wait() }

// Close waits for pending writes and releases the pool opened by Open.
func (l *Logger) Close() {
	l.Wait()
	if l.pool != nil {
		l.pool.Close()
	}
}

func eventFor(s pipeline.State) (EventType, bool) {
	switch s {
	case pipeline.StateStreaming:
		return EventSessionStarted, true
	case pipeline.StateDraining:
		return EventSessionDraining, true
	case pipeline.StateClosed:
		return EventSessionClosed, true
	case pipeline.StateFailed:
		return EventSessionFailed, true
	}
	return "", false
}

var _ pipeline.StateListener = (*Logger)(nil)
