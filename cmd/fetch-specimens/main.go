package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/entolabel/specimen-digitizer/internal/common"
	"github.com/entolabel/specimen-digitizer/internal/finbif"
)

func main() {
	var (
		out = flag.String("out", "./specimens", "directory to write one subdirectory per document into")
		max = flag.Int("max", 0, "stop after this many documents (0 means the whole collection)")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load .env file if present (ignore errors)
	_ = godotenv.Load()

	cfg := common.LoadConfig()
	if cfg.FinBIF.AccessToken == "" {
		logger.Error("FINBIF_ACCESS_TOKEN env var is required")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := finbif.NewClient(cfg.FinBIF, logger)
	harvester := finbif.NewHarvester(client, logger)

	logger.Info("starting harvest",
		"collection_id", cfg.FinBIF.CollectionID,
		"out", *out,
		"max_documents", *max)

	stats, err := harvester.HarvestCollection(ctx, *out, *max)
	if err != nil {
		logger.Error("harvest failed", "error", err,
			"documents", stats.Documents,
			"images", stats.Images,
			"failed", stats.Failed)
		os.Exit(1)
	}

	logger.Info("harvest complete",
		"documents", stats.Documents,
		"images", stats.Images,
		"skipped", stats.Skipped,
		"failed", stats.Failed)

	fmt.Printf("Harvest complete!\n")
	fmt.Printf("- Documents: %d\n", stats.Documents)
	fmt.Printf("- Images downloaded: %d\n", stats.Images)
	fmt.Printf("- Images skipped (already present): %d\n", stats.Skipped)
	fmt.Printf("- Documents failed: %d\n", stats.Failed)
	fmt.Printf("- Output: %s\n", *out)
}
