package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bookwise/bookwise/db"
	"github.com/bookwise/bookwise/internal/config"
	"github.com/bookwise/bookwise/internal/gemini"
	"github.com/bookwise/bookwise/internal/ingest"
	"github.com/bookwise/bookwise/internal/log"
	"github.com/bookwise/bookwise/internal/retrieval"
	"github.com/bookwise/bookwise/internal/store"
)

// runIngest builds the retrieval corpus from a directory of chapter files:
// bookwise ingest <dir> [language].
func runIngest(logger log.Logger, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: bookwise ingest <dir> [language]")
	}
	dir := args[0]
	language := "en"
	if len(args) > 1 {
		language = args[1]
	}

	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("checking chapter directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.ValidateIngest(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}

	pool, err := store.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	ai, err := gemini.New(ctx, gemini.Config{
		APIKey:        cfg.GeminiAPIKey,
		EmbedModel:    cfg.EmbedModel,
		GenerateModel: cfg.GenerateModel,
		Dimension:     cfg.EmbedDimension,
	}, logger.With("component", "gemini"))
	if err != nil {
		return fmt.Errorf("creating gemini client: %w", err)
	}

	index, err := retrieval.New(pool, logger.With("component", "retrieval"))
	if err != nil {
		return fmt.Errorf("creating retrieval client: %w", err)
	}

	svc, err := ingest.NewService(ai, index, ingest.Config{Language: language}, logger.With("component", "ingest"))
	if err != nil {
		return fmt.Errorf("creating ingestion service: %w", err)
	}

	stats, err := svc.Run(ctx, os.DirFS(dir))
	if err != nil {
		return fmt.Errorf("ingesting %s: %w", dir, err)
	}

	fmt.Printf("ingested %d chunks from %d files (%d skipped) in %s\n",
		stats.Chunks, stats.Files, stats.Skipped, stats.Duration.Round(time.Millisecond))
	return nil
}
