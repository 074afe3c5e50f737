package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/entolabel/specimen-digitizer/constants"
	"github.com/entolabel/specimen-digitizer/internal/common"
	"github.com/entolabel/specimen-digitizer/internal/eval"
	"github.com/entolabel/specimen-digitizer/internal/pipeline"
	repo "github.com/entolabel/specimen-digitizer/internal/repository"
)

// runeval scores every consolidated label in the database against an
// expert-verified ground truth file (.parquet or .jsonl).
func main() {
	var (
		truthPath  = flag.String("truth", "", "ground truth file, parquet or JSONL (required)")
		mismatches = flag.Bool("mismatches", false, "print every field disagreement")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if *truthPath == "" {
		logger.Error("--truth is required")
		os.Exit(2)
	}

	// Load .env file if present (ignore errors)
	_ = godotenv.Load()

	cfg := common.LoadConfig()
	if cfg.Database.DSN == "" {
		logger.Error("DB_URL env var is required")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	truth, err := eval.NewTruthLoader(*truthPath).Load()
	if err != nil {
		logger.Error("failed to load ground truth", "path", *truthPath, "error", err)
		os.Exit(1)
	}
	logger.Info("ground truth loaded", "path", *truthPath, "records", len(truth))

	entc, pool, err := repo.Open(ctx, repo.Config{
		DSN:             cfg.Database.DSN,
		MaxConns:        10,
		MinConns:        1,
		MaxConnLifetime: 30 * time.Minute,
		MaxConnIdleTime: 5 * time.Minute,
		DialTimeout:     3 * time.Second,
	}, logger)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer repo.Close(entc, pool, logger)

	specimensRepo := repo.NewSpecimenRepository(entc, logger)
	runsRepo := repo.NewDigitizeRunRepository(entc, logger)

	consolidated, err := specimensRepo.ListByStatus(ctx, string(constants.SpecimenStatusConsolidated), 0)
	if err != nil {
		logger.Error("failed to list specimens", "error", err)
		os.Exit(1)
	}

	var labels []*pipeline.ConsolidatedLabel
	for _, sp := range consolidated {
		run, err := runsRepo.LatestForSpecimen(ctx, sp.ID)
		if err != nil || len(run.ConsolidatedJSON) == 0 {
			logger.Warn("specimen has no usable label", "specimen_id", sp.ID, "catalog_id", sp.CatalogID)
			continue
		}
		var label pipeline.ConsolidatedLabel
		if err := json.Unmarshal(run.ConsolidatedJSON, &label); err != nil {
			logger.Warn("stored label does not parse", "specimen_id", sp.ID, "error", err)
			continue
		}
		labels = append(labels, &label)
	}
	logger.Info("labels loaded", "labels", len(labels))

	report := eval.Evaluate(labels, truth)

	fmt.Printf("Labels evaluated: %d (no ground truth for %d)\n\n", report.Labels, report.MissingTruth)
	fmt.Printf("%-26s %10s %8s %8s %8s %8s\n", "field", "accuracy", "agree", "differ", "missing", "extra")
	for _, name := range constants.AllFields() {
		stats := report.Fields[name]
		fmt.Printf("%-26s %9.1f%% %8d %8d %8d %8d\n",
			name, stats.Accuracy()*100,
			stats.Agreements, stats.Disagreements, stats.MissingValues, stats.ExtraValues)
	}
	fmt.Printf("\nOverall accuracy: %.1f%%\n", report.Overall()*100)

	if *mismatches && len(report.Mismatches) > 0 {
		fmt.Printf("\nDisagreements:\n")
		for _, m := range report.Mismatches {
			fmt.Printf("- %s %s: got %q, want %q\n", m.CatalogID, m.Field, m.Got, m.Want)
		}
	}
}
