// Package events publishes session lifecycle changes to Kafka.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/harunnryd/storyteller/pkg/errorsx"
	"github.com/harunnryd/storyteller/pkg/logging"
	"github.com/harunnryd/storyteller/pkg/pipeline"
	"github.com/harunnryd/storyteller/pkg/redact"
)

// SessionEvent is the JSON value of every published message. The message
// key is the session id, so one session's events stay on one partition.
type SessionEvent struct {
	SessionID  string    `json:"session_id"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Reason     string    `json:"reason,omitempty"`
	Error      string    `json:"error,omitempty"`
	Stage      string    `json:"stage,omitempty"`
	ReasonCode string    `json:"reason_code,omitempty"`
	Time       time.Time `json:"time"`
}

// MessageWriter is the part of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Config struct {
	Brokers []string
	Topic   string
	Enabled bool
}

// Publisher implements pipeline.StateListener. When Kafka is disabled it
// only logs the events.
type Publisher struct {
	writer  MessageWriter
	topic   string
	enabled bool
	timeout time.Duration
	logger  *slog.Logger
}

func New(cfg Config) *Publisher {
	logger := logging.NewComponentLogger(slog.Default(), "events")
	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		logger.Info("kafka disabled, using log-only mode")
		return &Publisher{topic: cfg.Topic, logger: logger}
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Transport:    &kafka.Transport{Dial: dialer.DialFunc},
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				logger.Error("kafka publish failed",
					slog.Int("messages", len(msgs)),
					slog.String("error", err.Error()))
			}
		},
	}
	logger.Info("kafka publisher initialized",
		slog.Any("brokers", cfg.Brokers),
		slog.String("topic", cfg.Topic))
	return NewWithWriter(writer, cfg.Topic)
}

// NewWithWriter publishes through w.
func NewWithWriter(w MessageWriter, topic string) *Publisher {
	return &Publisher{
		writer:  w,
		topic:   topic,
		enabled: w != nil,
		timeout: 5 * time.Second,
		logger:  logging.NewComponentLogger(slog.Default(), "events"),
	}
}

func (p *Publisher) Enabled() bool { return p.enabled }

// OnStateChange implements pipeline.StateListener.
func (p *Publisher) OnStateChange(ev pipeline.StateChange) {
	out := SessionEvent{
		SessionID: ev.SessionID,
		From:      ev.From.String(),
		To:        ev.To.String(),
		Reason:    ev.Reason,
		Time:      ev.Time.UTC(),
	}
	if ev.Err != nil {
		out.Error = redact.Error(ev.Err)
		out.Stage = string(errorsx.StageOf(ev.Err))
		out.ReasonCode = string(errorsx.Reason(ev.Err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.Publish(ctx, out); err != nil {
		p.logger.Warn("session event not published",
			slog.String("session_id", ev.SessionID),
			slog.String("error", err.Error()))
	}
}

// Publish writes one event keyed by its session id.
func (p *Publisher) Publish(ctx context.Context, ev SessionEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	p.logger.Debug("publishing session event",
		slog.String("session_id", ev.SessionID),
		slog.String("topic", p.topic),
		slog.String("to", ev.To))
	if !p.enabled {
		return nil
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.SessionID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte("session_" + ev.To)},
		},
	})
}

func (p *Publisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

var _ pipeline.StateListener = (*Publisher)(nil)
