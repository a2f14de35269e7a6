package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/harunnryd/storyteller/pkg/configutil"
	"github.com/harunnryd/storyteller/pkg/logging"
	"github.com/harunnryd/storyteller/pkg/providers/openai"
	"github.com/harunnryd/storyteller/pkg/storyteller"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	output := flag.String("output", "", "image file to write")
	size := flag.String("size", openai.DefaultImageSize, "image size")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s -output FILE [flags] TEXT\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if err := run(*configPath, strings.Join(flag.Args(), " "), *output, *size); err != nil {
		slog.Error("image_failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath, prompt, output, size string) error {
	if strings.TrimSpace(prompt) == "" {
		return fmt.Errorf("image text is required")
	}
	if output == "" {
		return fmt.Errorf("-output is required")
	}
	cfg, err := storyteller.LoadConfig(configPath)
	if err != nil {
		return err
	}
	slog.SetDefault(logging.NewLogger(os.Stderr, logging.ParseLevel(cfg.LogLevel), cfg.LogFormat))

	apiKey := cfg.OpenAIKey()
	if err := configutil.RequireString(apiKey, "OPENAI_API_KEY"); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()
	start := time.Now()
	img, err := openai.NewImages(apiKey).Generate(ctx, prompt, size)
	if err != nil {
		return err
	}
	if err := os.WriteFile(output, img, 0o644); err != nil {
		return err
	}
	slog.Info("image_done",
		"bytes", len(img),
		"size", size,
		"latency_ms", time.Since(start).Milliseconds(),
		"output", output)
	return nil
}
