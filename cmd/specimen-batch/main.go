package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/entolabel/specimen-digitizer/gen/ent"
	"github.com/entolabel/specimen-digitizer/internal/align"
	"github.com/entolabel/specimen-digitizer/internal/arbiter"
	"github.com/entolabel/specimen-digitizer/internal/cache"
	"github.com/entolabel/specimen-digitizer/internal/common"
	"github.com/entolabel/specimen-digitizer/internal/export"
	"github.com/entolabel/specimen-digitizer/internal/fieldschema"
	"github.com/entolabel/specimen-digitizer/internal/ingest"
	"github.com/entolabel/specimen-digitizer/internal/llm/gemini"
	"github.com/entolabel/specimen-digitizer/internal/pipeline"
	repo "github.com/entolabel/specimen-digitizer/internal/repository"
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	var (
		inmem  = flag.Bool("inmem", false, "use an in-memory SQLite database")
		dir    = flag.String("dir", "", "batch root with one specimen directory per specimen (required)")
		out    = flag.String("out", "", "output XLSX file path (optional, defaults to parent directory)")
		force  = flag.Bool("force", false, "reprocess specimens that are already consolidated")
		schemf = flag.String("fields", "configs/fields.yaml", "field schema YAML path")
	)
	flag.Parse()

	if *dir == "" {
		printError("Error: --dir is required\n")
		os.Exit(1)
	}
	if *out == "" {
		*out = filepath.Join(filepath.Dir(*dir), "labels.xlsx")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load .env file if present (ignore errors)
	_ = godotenv.Load()

	ctx := context.Background()
	cfg := common.LoadConfig()

	if cfg.Vision.APIKey == "" {
		printError("Error: GEMINI_API_KEY env var is required\n")
		os.Exit(1)
	}
	if !*inmem && cfg.Database.DSN == "" {
		printError("Error: DB_URL env var is required (or pass --inmem)\n")
		os.Exit(1)
	}

	entc, pool, err := openDatabase(ctx, cfg, *inmem, logger)
	if err != nil {
		logger.Error("failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer repo.Close(entc, pool, logger)

	store, err := cache.NewFSStore(cfg.Cache.RootDir, logger)
	if err != nil {
		logger.Error("failed to open result cache", "dir", cfg.Cache.RootDir, "error", err)
		os.Exit(1)
	}

	schema, err := fieldschema.Load(*schemf)
	if err != nil {
		logger.Warn("field schema not loaded, using built-in fields", "path", *schemf, "error", err)
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

	ingestor := ingest.NewFSIngestor(specimensRepo, imagesRepo, logger)

	logger.Info("starting ingestion", "dir", *dir)
	results, stats, err := ingestor.IngestRoot(ctx, *dir, ingest.SourceLocal, true)
	if err != nil {
		logger.Error("failed to ingest directory", "error", err)
		os.Exit(1)
	}
	logger.Info("ingestion complete",
		"specimens", stats.Specimens,
		"images", stats.Images,
		"deduplicated", stats.Deduplicated,
		"failed", stats.Failed)

	processed := 0
	failures := 0
	for _, result := range results {
		specimenID, err := uuid.Parse(result.SpecimenID)
		if err != nil {
			logger.Error("skipping result with bad specimen id", "catalog_id", result.CatalogID, "specimen_id", result.SpecimenID)
			failures++
			continue
		}
		logger.Info("processing specimen", "specimen_id", specimenID, "catalog_id", result.CatalogID)
		if err := processor.ProcessSpecimen(ctx, specimenID, *force); err != nil {
			logger.Error("failed to process specimen", "specimen_id", specimenID, "error", err)
			failures++
		} else {
			processed++
		}
	}

	logger.Info("exporting to XLSX", "output", *out)
	exporter := export.NewService(specimensRepo, runsRepo, logger)
	xlsxBytes, labels, err := exporter.ExportLabelsXLSX(ctx, "")
	if err != nil {
		logger.Error("failed to export labels", "error", err)
		os.Exit(1)
	}
	if err := os.WriteFile(*out, xlsxBytes, 0644); err != nil {
		logger.Error("failed to write output file", "error", err)
		os.Exit(1)
	}

	logger.Info("batch processing complete",
		"specimens_ingested", stats.Specimens,
		"specimens_processed", processed,
		"failures", failures,
		"labels_exported", labels,
		"output_file", *out)

	fmt.Printf("Batch processing complete!\n")
	fmt.Printf("- Specimens ingested: %d\n", stats.Specimens)
	fmt.Printf("- Specimens processed: %d\n", processed)
	fmt.Printf("- Failures: %d\n", failures)
	fmt.Printf("- Labels exported: %d\n", labels)
	fmt.Printf("- Output: %s\n", *out)
}

// openDatabase picks the backing store: the configured Postgres, or a
// throwaway in-memory SQLite for runs that should leave nothing behind.
// The pool is nil in the SQLite case.
func openDatabase(ctx context.Context, cfg *common.Config, inmem bool, logger *slog.Logger) (*ent.Client, *pgxpool.Pool, error) {
	if inmem {
		entc, err := repo.OpenSQLiteInMemory(ctx, logger)
		return entc, nil, err
	}
	return repo.Open(ctx, repo.Config{
		DSN:              cfg.Database.DSN,
		MaxConns:         cfg.Database.MaxConns,
		MinConns:         cfg.Database.MinConns,
		MaxConnLifetime:  cfg.Database.MaxConnLifetime,
		MaxConnIdleTime:  cfg.Database.MaxConnIdleTime,
		DialTimeout:      cfg.Database.DialTimeout,
		StatementTimeout: cfg.Database.StatementTimeout,
	}, logger)
}
