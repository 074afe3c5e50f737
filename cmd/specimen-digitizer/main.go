package main

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	labelsv1 "github.com/entolabel/specimen-digitizer/gen/proto/labels/v1"
	"github.com/entolabel/specimen-digitizer/internal/align"
	"github.com/entolabel/specimen-digitizer/internal/arbiter"
	"github.com/entolabel/specimen-digitizer/internal/async"
	"github.com/entolabel/specimen-digitizer/internal/cache"
	"github.com/entolabel/specimen-digitizer/internal/common"
	"github.com/entolabel/specimen-digitizer/internal/export"
	"github.com/entolabel/specimen-digitizer/internal/fieldschema"
	"github.com/entolabel/specimen-digitizer/internal/ingest"
	"github.com/entolabel/specimen-digitizer/internal/llm/gemini"
	"github.com/entolabel/specimen-digitizer/internal/pipeline"
	repo "github.com/entolabel/specimen-digitizer/internal/repository"
	svc "github.com/entolabel/specimen-digitizer/internal/server"
)

func main() {
	// Structured logger that outputs messages with variables but no time/level
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey || a.Key == slog.LevelKey {
				return slog.Attr{}
			}
			return a
		},
	}))
	slog.SetDefault(logger)

	// Load .env file if present (ignore errors)
	_ = godotenv.Load()

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	addr := cfg.Server.GRPCAddr
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	entc, pool, err := svc.ConnectDB(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer svc.CloseDB(entc, pool, logger)

	if err := svc.PingDB(ctx, pool, logger, 5*time.Second); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}

	store, err := cache.NewFSStore(cfg.Cache.RootDir, logger)
	if err != nil {
		logger.Error("failed to open result cache", "dir", cfg.Cache.RootDir, "error", err)
		os.Exit(1)
	}

	schemaPath := getenv("FIELDS_CONFIG", "configs/fields.yaml")
	schema, err := fieldschema.Load(schemaPath)
	if err != nil {
		logger.Warn("field schema not loaded, using built-in fields", "path", schemaPath, "error", err)
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

	queue := async.NewProcessorQueue(processor, logger,
		async.WithWorkers(cfg.Pipeline.Workers),
		async.WithQueueSize(cfg.Pipeline.QueueSize),
		async.WithProcessTimeout(cfg.Pipeline.SpecimenTimeout),
	)

	ingestor := ingest.NewFSIngestor(specimensRepo, imagesRepo, logger)

	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(svc.UnaryRequestID(logger)))

	exporter := export.NewService(specimensRepo, runsRepo, logger)
	labelsService := svc.NewLabelsService(specimensRepo, runsRepo, exporter, logger)
	labelsv1.RegisterLabelsServiceServer(grpcServer, labelsService)

	ingestionService := svc.NewIngestionService(ingestor, specimensRepo, queue, logger)
	labelsv1.RegisterIngestionServiceServer(grpcServer, ingestionService)

	// Register gRPC health service; empty string means overall server health
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	if watchRoot := os.Getenv("WATCH_DIR"); watchRoot != "" {
		startWatchIngest(ctx, watchRoot, ingestor, queue, logger)
	}

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Error("failed to listen on address", "addr", addr, "error", err)
		os.Exit(1)
	}

	logger.Info("specimen-digitizer listening", "addr", addr)
	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			slog.Error("gRPC serve error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	queue.Shutdown(context.Background())
	grpcServer.GracefulStop()
}

// startWatchIngest registers specimen directories as images land in the
// watched root and enqueues each one for digitization.
func startWatchIngest(ctx context.Context, root string, ingestor ingest.Ingestor, queue async.Queue, logger *slog.Logger) {
	events, watchErrs, err := ingest.StartWatcher(ctx, ingest.WatchConfig{
		Root:        root,
		InitialScan: true,
		Debounce:    2 * time.Second,
	}, logger)
	if err != nil {
		logger.Error("failed to watch batch root", "root", root, "error", err)
		os.Exit(1)
	}
	logger.Info("watching batch root", "root", root)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case err, ok := <-watchErrs:
				if !ok {
					return
				}
				logger.Error("watcher error", "error", err)
			case dir, ok := <-events:
				if !ok {
					return
				}
				res, err := ingestor.IngestSpecimenDir(ctx, dir, ingest.SourceLocal)
				if err != nil {
					logger.Error("watch ingest failed", "dir", dir, "error", err)
					continue
				}
				specimenID, err := uuid.Parse(res.SpecimenID)
				if err != nil {
					logger.Error("watch ingest returned bad specimen id", "dir", dir, "specimen_id", res.SpecimenID)
					continue
				}
				if err := queue.Enqueue(ctx, async.Job{SpecimenID: specimenID, SubmittedAt: time.Now()}); err != nil {
					logger.Error("failed to enqueue watched specimen", "specimen_id", specimenID, "error", err)
				}
			}
		}
	}()
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
