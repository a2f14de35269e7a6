package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/harunnryd/storyteller/pkg/logging"
	"github.com/harunnryd/storyteller/pkg/storyteller"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	text := flag.String("text", "Once upon a time, there was a brave girl.", "text to synthesize")
	output := flag.String("output", "", "clip file to write (.wav or .mp3 depending on the backend)")
	flag.Parse()

	if err := run(*configPath, *text, *output); err != nil {
		slog.Error("tts_failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath, text, output string) error {
	if output == "" {
		return fmt.Errorf("-output is required")
	}
	cfg, err := storyteller.LoadConfig(configPath)
	if err != nil {
		return err
	}
	slog.SetDefault(logging.NewLogger(os.Stderr, logging.ParseLevel(cfg.LogLevel), cfg.LogFormat))

	speech, err := storyteller.DefaultProviders().BuildTTS(cfg.Vendors.TTS.Provider, cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Synth.TimeoutMS)*time.Millisecond)
	defer cancel()
	start := time.Now()
	clip, err := speech.Backend.Synthesize(ctx, text, speech.Voice)
	if err != nil {
		return err
	}
	if err := os.WriteFile(output, clip, 0o644); err != nil {
		return err
	}
	slog.Info("tts_done",
		"provider", speech.Backend.Name(),
		"container", speech.Container,
		"bytes", len(clip),
		"latency_ms", time.Since(start).Milliseconds(),
		"output", output)
	return nil
}
