package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/harunnryd/storyteller/pkg/logging"
	"github.com/harunnryd/storyteller/pkg/resilience"
	"github.com/harunnryd/storyteller/pkg/runner"
	"github.com/harunnryd/storyteller/pkg/storyteller"
	"github.com/harunnryd/storyteller/pkg/transports/speaker"
)

// lowLatencyMaxChars keeps the first utterance short so audio starts early.
const lowLatencyMaxChars = 100

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	prompt := flag.String("prompt", "", "story request; empty uses the configured default")
	output := flag.String("output", "", "write a WAV file instead of playing")
	strict := flag.Bool("strict", false, "stop on the first synthesis failure")
	flag.Parse()

	if err := run(*configPath, *prompt, *output, *strict); err != nil {
		slog.Error("story_failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath, prompt, output string, strict bool) error {
	cfg, err := storyteller.LoadConfig(configPath)
	if err != nil {
		return err
	}
	logger := logging.NewLogger(os.Stderr, logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)
	slog.SetDefault(logger)

	eng, err := storyteller.NewEngine(storyteller.EngineOptions{
		Config:    cfg,
		Providers: storyteller.DefaultProviders(),
		Logger:    logger,
		Hooks:     runner.Hooks{NoBanner: true},
	})
	if err != nil {
		return err
	}
	defer eng.Close()

	var out speaker.Output
	if output != "" {
		out = speaker.NewFileOutput(output)
	} else {
		pa, err := speaker.NewPortaudioOutput(cfg.Sinks.Speaker.FramesPerBuffer)
		if err != nil {
			return fmt.Errorf("audio device: %w", err)
		}
		out = pa
	}
	sp := speaker.New(out)
	sp.SetLogger(logger)

	seg := cfg.SegmenterConfig()
	seg.MaxChars = lowLatencyMaxChars
	mode := resilience.FailSkip
	if strict {
		mode = resilience.FailFatal
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stats, err := eng.Narrate(ctx, storyteller.SessionOptions{
		Prompt:      prompt,
		ClipsOnly:   true,
		Segmenter:   &seg,
		FailureMode: &mode,
		OnToken:     func(tok string) { fmt.Print(tok) },
	}, sp)
	fmt.Println()
	played, failed := sp.Stats()
	logger.Info("story_done",
		"tokens", stats.Tokens,
		"chars", stats.Chars,
		"utterances", stats.Utterances,
		"skipped", stats.Skipped,
		"played", played,
		"play_failed", failed)
	return err
}

