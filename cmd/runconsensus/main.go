package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/entolabel/specimen-digitizer/internal/align"
	"github.com/entolabel/specimen-digitizer/internal/arbiter"
	"github.com/entolabel/specimen-digitizer/internal/cache"
	"github.com/entolabel/specimen-digitizer/internal/common"
	"github.com/entolabel/specimen-digitizer/internal/fieldschema"
	"github.com/entolabel/specimen-digitizer/internal/llm/gemini"
	"github.com/entolabel/specimen-digitizer/internal/pipeline"
	repo "github.com/entolabel/specimen-digitizer/internal/repository"
)

// runconsensus forces one specimen through both stages and prints the
// consolidated label. Rerunning an unchanged specimen resolves from the
// cache, so it doubles as a determinism check.
func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if len(os.Args) != 2 {
		logger.Error("usage", "cmd", "runconsensus <specimen-id-uuid>")
		os.Exit(2)
	}
	specimenID, err := uuid.Parse(os.Args[1])
	if err != nil {
		logger.Error("invalid specimen id (must be UUID)", "arg", os.Args[1], "error", err)
		os.Exit(2)
	}

	// Load .env file if present (ignore errors)
	_ = godotenv.Load()

	cfg := common.LoadConfig()
	if cfg.Database.DSN == "" {
		logger.Error("DB_URL env var is required")
		os.Exit(2)
	}
	if cfg.Vision.APIKey == "" {
		logger.Error("GEMINI_API_KEY env var is required")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

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

	store, err := cache.NewFSStore(cfg.Cache.RootDir, logger)
	if err != nil {
		logger.Error("failed to open result cache", "dir", cfg.Cache.RootDir, "error", err)
		os.Exit(1)
	}

	schema, err := fieldschema.Load("configs/fields.yaml")
	if err != nil {
		schema = fieldschema.Default()
	}

	gem, err := gemini.NewClient(ctx, gemini.Config{
		APIKey:      cfg.Vision.APIKey,
		Model:       cfg.Vision.Model,
		Temperature: cfg.Vision.Temperature,
		Timeout:     cfg.Vision.Timeout,
	}, schema, logger)
	if err != nil {
		logger.Error("failed to create gemini client", "error", err)
		os.Exit(1)
	}
	defer gem.Close()

	specimensRepo := repo.NewSpecimenRepository(entc, logger)
	imagesRepo := repo.NewSpecimenImageRepository(entc, logger)
	runsRepo := repo.NewDigitizeRunRepository(entc, logger)

	engine := align.NewEngine(cfg.Align.ConflictThreshold, logger)
	arb := arbiter.New(gem, store, cfg.Vision.RunVersion, logger)
	digitizeStage := pipeline.NewDigitizeStage(gem, store, cfg.Vision.RunVersion, cfg.Vision.Model, 2, cfg.Pipeline.ImageWait, logger)
	consolidateStage := pipeline.NewConsolidateStage(engine, arb, store, schema, cfg.Vision.RunVersion, logger)
	processor := pipeline.NewProcessor(logger, specimensRepo, imagesRepo, runsRepo, digitizeStage, consolidateStage, cfg.Vision.RunVersion, cfg.Vision.Model)

	start := time.Now()
	if err := processor.ProcessSpecimen(ctx, specimenID, true); err != nil {
		logger.Error("consensus run failed", "specimen_id", specimenID, "error", err)
		os.Exit(1)
	}

	run, err := runsRepo.LatestForSpecimen(ctx, specimenID)
	if err != nil {
		logger.Error("failed to load finished run", "specimen_id", specimenID, "error", err)
		os.Exit(1)
	}
	runStatus := ""
	if run.Status != nil {
		runStatus = *run.Status
	}
	logger.Info("consensus run complete",
		"specimen_id", specimenID,
		"run_status", runStatus,
		"elapsed_ms", time.Since(start).Milliseconds())

	var pretty json.RawMessage = run.ConsolidatedJSON
	indented, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		fmt.Println(string(run.ConsolidatedJSON))
		return
	}
	fmt.Println(string(indented))
}
