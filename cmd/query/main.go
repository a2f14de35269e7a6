package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/harunnryd/storyteller/pkg/logging"
	"github.com/harunnryd/storyteller/pkg/storyteller"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	prompt := flag.String("prompt", "", "story request; empty uses the configured default")
	flag.Parse()

	if err := run(*configPath, *prompt); err != nil {
		slog.Error("query_failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath, prompt string) error {
	cfg, err := storyteller.LoadConfig(configPath)
	if err != nil {
		return err
	}
	slog.SetDefault(logging.NewLogger(os.Stderr, logging.ParseLevel(cfg.LogLevel), cfg.LogFormat))

	source, err := storyteller.DefaultProviders().BuildLLM(cfg.Vendors.LLM.Provider, cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stream, err := source.Stream(ctx, cfg.Prompt(prompt))
	if err != nil {
		return err
	}
	defer stream.Close()

	tokens, chars := 0, 0
	for {
		tok, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		tokens++
		chars += len(tok)
		fmt.Print(tok)
	}
	fmt.Println()
	slog.Info("query_done", "provider", source.Name(), "tokens", tokens, "chars", chars)
	return nil
}
