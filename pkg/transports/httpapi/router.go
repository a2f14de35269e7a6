// Package httpapi serves narrations over HTTP and websockets.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/harunnryd/storyteller/pkg/frames"
	"github.com/harunnryd/storyteller/pkg/logging"
	"github.com/harunnryd/storyteller/pkg/pipeline"
	"github.com/harunnryd/storyteller/pkg/redact"
	"github.com/harunnryd/storyteller/pkg/storyteller"
	"github.com/harunnryd/storyteller/pkg/transports"
)

// ErrorTrailer carries the failure of a truncated /audio stream.
const ErrorTrailer = "X-Story-Error"

const maxRequestBytes = 64 << 10

// Narrator is the part of *storyteller.Engine the router needs.
type Narrator interface {
	Narrate(ctx context.Context, opts storyteller.SessionOptions, sink transports.Sink) (pipeline.SessionStats, error)
	Health() error
}

type RouterConfig struct {
	// WebsocketAudio is AudioClip or AudioStream.
	WebsocketAudio string
	// Gatherer backs /metrics; nil disables the endpoint.
	Gatherer prometheus.Gatherer
}

type storyRequest struct {
	Prompt string `json:"prompt"`
}

type Router struct {
	cfg      RouterConfig
	engine   Narrator
	mux      *http.ServeMux
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewRouter(cfg RouterConfig, engine Narrator, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		cfg:    cfg,
		engine: engine,
		mux:    http.NewServeMux(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logging.NewComponentLogger(logger, "httpapi"),
	}
	r.routes()
	return withSentryRecovery(r.mux)
}

func (r *Router) routes() {
	r.mux.HandleFunc("GET /{$}", r.handleRoot)
	r.mux.HandleFunc("POST /audio", r.handleAudio)
	r.mux.HandleFunc("GET /ws", r.handleWebsocket)
	r.mux.HandleFunc("GET /healthz", r.handleHealthz)
	r.mux.HandleFunc("GET /readyz", r.handleReadyz)
	if r.cfg.Gatherer != nil {
		r.mux.Handle("GET /metrics", promhttp.HandlerFor(r.cfg.Gatherer, promhttp.HandlerOpts{}))
	}
}

func (r *Router) handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "Hello from the storyteller! POST /audio for a story.\n")
}

func (r *Router) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Router) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	if err := r.engine.Health(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// handleAudio streams one narration as a single WAV. Failures after the
// first byte are reported in the X-Story-Error trailer.
func (r *Router) handleAudio(w http.ResponseWriter, req *http.Request) {
	body, err := decodeStoryRequest(req)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	id := pipeline.NewSessionID()
	w.Header().Set("Trailer", ErrorTrailer)
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("X-Session-ID", id)

	sink := transports.NewWriterSink("http", w)
	sink.OnClose(func(cause error) error {
		if cause != nil {
			w.Header().Set(ErrorTrailer, redact.Error(cause))
		}
		return nil
	})

	stats, err := r.engine.Narrate(req.Context(), storyteller.SessionOptions{ID: id, Prompt: body.Prompt}, sink)
	if err == nil {
		r.logger.Info("audio_served",
			slog.String("session_id", id),
			slog.Int64("bytes", sink.Written()),
			slog.Int("utterances", stats.Utterances))
		return
	}
	r.logger.Warn("audio_failed", slog.String("session_id", id), slog.String("error", redact.Error(err)))
	if req.Context().Err() == nil && !errors.Is(err, pipeline.ErrDraining) {
		captureError(req, redact.Wrap(err), "narration failed")
	}
	if sink.Written() == 0 {
		w.Header().Del("Trailer")
		writeJSON(w, statusFor(err), map[string]string{"error": redact.Error(err), "session_id": id})
	}
}

func (r *Router) handleWebsocket(w http.ResponseWriter, req *http.Request) {
	if err := r.engine.Health(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxRequestBytes)

	var body storyRequest
	if err := conn.ReadJSON(&body); err != nil {
		_ = conn.WriteJSON(frames.StoryChunk{Error: "expected {\"prompt\": ...}: " + err.Error()})
		return
	}

	ctx, cancel := context.WithCancel(req.Context())
	defer cancel()
	// A read error means the client went away.
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				cancel()
				return
			}
		}
	}()

	id := pipeline.NewSessionID()
	sink := NewWebsocketSink(conn, r.cfg.WebsocketAudio)
	stats, err := r.engine.Narrate(ctx, storyteller.SessionOptions{
		ID:        id,
		Prompt:    body.Prompt,
		ClipsOnly: sink.ClipsOnly(),
	}, sink)
	if err != nil {
		r.logger.Warn("ws_failed", slog.String("session_id", id), slog.String("error", redact.Error(err)))
		if ctx.Err() == nil && !errors.Is(err, pipeline.ErrDraining) {
			captureError(req, redact.Wrap(err), "websocket narration failed")
		}
		return
	}
	r.logger.Info("ws_served",
		slog.String("session_id", id),
		slog.Int("messages", sink.Sent()),
		slog.Int("utterances", stats.Utterances))
}

func decodeStoryRequest(req *http.Request) (storyRequest, error) {
	var body storyRequest
	if req.Body == nil {
		return body, nil
	}
	raw, err := io.ReadAll(io.LimitReader(req.Body, maxRequestBytes))
	if err != nil {
		return body, err
	}
	if strings.TrimSpace(string(raw)) == "" {
		return body, nil
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return body, err
	}
	return body, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrDraining):
		return http.StatusServiceUnavailable
	case errors.Is(err, storyteller.ErrNeedsClipSink):
		return http.StatusNotImplemented
	case errors.Is(err, context.Canceled):
		return 499
	}
	return http.StatusBadGateway
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
