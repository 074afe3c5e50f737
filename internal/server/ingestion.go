package server

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	labelspb "github.com/entolabel/specimen-digitizer/gen/proto/labels/v1"
	"github.com/entolabel/specimen-digitizer/internal/async"
	"github.com/entolabel/specimen-digitizer/internal/common"
	"github.com/entolabel/specimen-digitizer/internal/ingest"
	"github.com/entolabel/specimen-digitizer/internal/repository"
)

type IngestionService struct {
	labelspb.UnimplementedIngestionServiceServer
	ingestor  ingest.Ingestor
	specimens repository.SpecimenRepository
	queue     async.Queue
	logger    *slog.Logger
}

func NewIngestionService(ing ingest.Ingestor, specimens repository.SpecimenRepository, queue async.Queue, logger *slog.Logger) *IngestionService {
	return &IngestionService{
		ingestor:  ing,
		specimens: specimens,
		queue:     queue,
		logger:    logger,
	}
}

// IngestDirectory registers every specimen directory under the given
// batch root and optionally queues the specimens for digitization.
func (s *IngestionService) IngestDirectory(ctx context.Context, req *labelspb.IngestDirectoryRequest) (*labelspb.IngestDirectoryResponse, error) {
	validator := common.NewValidator()
	validator.Field("root_path", req.GetRootPath(), common.Required)
	if err := common.ValidateAndReturnError(validator); err != nil {
		return nil, err
	}

	root := strings.TrimSpace(req.GetRootPath())
	s.logger.Info("starting directory ingest", "root", root, "digitize", req.GetDigitize())
	results, stats, err := s.ingestor.IngestRoot(ctx, root, ingest.SourceLocal, true)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "ingest directory: %v", err)
	}
	s.logger.Info("directory ingest completed",
		"root", root,
		"specimens", stats.Specimens,
		"images", stats.Images,
		"deduplicated", stats.Deduplicated,
		"failed", stats.Failed)

	resp := &labelspb.IngestDirectoryResponse{
		Specimens:    int32(stats.Specimens),
		Images:       int32(stats.Images),
		Deduplicated: int32(stats.Deduplicated),
		Failed:       int32(stats.Failed),
		SpecimenIds:  make([]string, 0, len(results)),
	}
	for _, r := range results {
		if r.SpecimenID == "" {
			continue
		}
		resp.SpecimenIds = append(resp.SpecimenIds, r.SpecimenID)

		if !req.GetDigitize() {
			continue
		}
		specimenID, err := uuid.Parse(r.SpecimenID)
		if err != nil {
			continue
		}
		job := async.Job{SpecimenID: specimenID, SubmittedAt: time.Now()}
		if err := s.queue.Enqueue(ctx, job); err != nil {
			s.logger.Error("failed to enqueue specimen", "specimen_id", r.SpecimenID, "error", err)
		}
	}
	return resp, nil
}

// DigitizeSpecimen queues one specimen for processing.
func (s *IngestionService) DigitizeSpecimen(ctx context.Context, req *labelspb.DigitizeSpecimenRequest) (*labelspb.DigitizeSpecimenResponse, error) {
	sp, err := resolveSpecimen(ctx, s.specimens, req.GetSpecimenId(), req.GetCatalogId())
	if err != nil {
		return nil, err
	}

	job := async.Job{SpecimenID: sp.ID, Force: req.GetForce(), SubmittedAt: time.Now()}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		s.logger.Error("failed to enqueue specimen", "specimen_id", sp.ID, "error", err)
		return nil, status.Errorf(codes.Unavailable, "enqueue: %v", err)
	}

	s.logger.Info("digitize.enqueued",
		"specimen_id", sp.ID,
		"catalog_id", sp.CatalogID,
		"force", req.GetForce())
	return &labelspb.DigitizeSpecimenResponse{SpecimenId: sp.ID.String(), Enqueued: true}, nil
}
