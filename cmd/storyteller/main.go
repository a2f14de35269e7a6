package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/harunnryd/storyteller/pkg/eventlog"
	"github.com/harunnryd/storyteller/pkg/events"
	"github.com/harunnryd/storyteller/pkg/logging"
	"github.com/harunnryd/storyteller/pkg/pipeline"
	"github.com/harunnryd/storyteller/pkg/storyteller"
	"github.com/harunnryd/storyteller/pkg/transports/httpapi"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("storyteller_exit", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := storyteller.LoadConfig(configPath)
	if err != nil {
		return err
	}
	logger := logging.InitLogger(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)

	if cfg.Observability.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.Observability.SentryDSN,
			EnableTracing:    true,
			TracesSampleRate: cfg.Observability.SentryTracesSampleRate,
			Environment:      cfg.Environment,
		})
		if err != nil {
			logger.Warn("sentry init failed", "error", err)
		} else {
			logger.Info("sentry initialized")
			defer sentry.Flush(2 * time.Second)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	publisher := events.New(events.Config{
		Brokers: cfg.Events.Kafka.Brokers,
		Topic:   cfg.Events.Kafka.Topic,
		Enabled: cfg.Events.Kafka.Enabled,
	})
	defer publisher.Close()

	openCtx, cancelOpen := context.WithTimeout(ctx, 10*time.Second)
	evlog, err := eventlog.Open(openCtx, cfg.Events.DatabaseURL)
	cancelOpen()
	if err != nil {
		return fmt.Errorf("event log: %w", err)
	}
	defer evlog.Close()

	eng, err := storyteller.NewEngine(storyteller.EngineOptions{
		Config:    cfg,
		Providers: storyteller.DefaultProviders(),
		Listeners: []pipeline.StateListener{publisher, evlog, httpapi.NewSentryListener(nil)},
		Logger:    logger,
	})
	if err != nil {
		if cfg.Observability.SentryDSN != "" {
			sentry.CaptureException(err)
		}
		return fmt.Errorf("init engine: %w", err)
	}
	defer eng.Close()

	srv := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: httpapi.NewRouter(httpapi.RouterConfig{
			WebsocketAudio: cfg.Sinks.Websocket.Audio,
			Gatherer:       eng.Metrics().Registry(),
		}, eng, logger),
		ReadHeaderTimeout: time.Duration(cfg.Server.ReadHeaderTimeoutMS) * time.Millisecond,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	// Start blocks until a signal arrives, then drains running sessions.
	drainErr := eng.Start(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	select {
	case err := <-serveErr:
		return fmt.Errorf("listen: %w", err)
	default:
	}
	return drainErr
}
