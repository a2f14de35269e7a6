package httpapi

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/harunnryd/storyteller/pkg/errorsx"
	"github.com/harunnryd/storyteller/pkg/frames"
	"github.com/harunnryd/storyteller/pkg/redact"
	"github.com/harunnryd/storyteller/pkg/transports"
)

const (
	AudioClip   = "clip"
	AudioStream = "stream"
)

// wsConn is the part of *websocket.Conn the sink writes through.
type wsConn interface {
	WriteJSON(v any) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
}

// WebsocketSink sends one StoryChunk message per utterance. In clip mode
// the message carries the self-headered clip; in stream mode it carries the
// assembled stream bytes.
type WebsocketSink struct {
	conn         wsConn
	mode         string
	writeTimeout time.Duration

	mu     sync.Mutex
	closed bool
	sent   int
}

func NewWebsocketSink(conn wsConn, mode string) *WebsocketSink {
	if mode != AudioStream {
		mode = AudioClip
	}
	return &WebsocketSink{conn: conn, mode: mode, writeTimeout: 10 * time.Second}
}

func (s *WebsocketSink) Name() string { return "websocket" }

// ClipsOnly reports whether the session may skip stream assembly.
func (s *WebsocketSink) ClipsOnly() bool { return s.mode == AudioClip }

func (s *WebsocketSink) Write(ctx context.Context, chunk frames.Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := frames.StoryChunk{Text: chunk.Text, Audio: chunk.Clip}
	if s.mode == AudioStream {
		msg.Audio = chunk.Stream
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errorsx.Wrap(transports.ErrSinkClosed, errorsx.ReasonSinkClosed)
	}
	if err := s.send(msg); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonSinkWrite)
	}
	s.sent++
	return nil
}

// Close sends the terminal done or error message, then a close frame.
func (s *WebsocketSink) Close(cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	final := frames.StoryChunk{Done: true}
	code := websocket.CloseNormalClosure
	if cause != nil {
		final = frames.StoryChunk{Error: redact.Error(cause)}
		code = websocket.CloseInternalServerErr
	}
	if err := s.send(final); err != nil {
		return err
	}
	return s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, ""),
		time.Now().Add(time.Second))
}

// Sent returns the number of chunk messages written.
func (s *WebsocketSink) Sent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent
}

func (s *WebsocketSink) send(msg frames.StoryChunk) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	return s.conn.WriteJSON(msg)
}
