// Package server exposes the digitization pipeline over gRPC.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/entolabel/specimen-digitizer/constants"
	"github.com/entolabel/specimen-digitizer/gen/ent"
	labelspb "github.com/entolabel/specimen-digitizer/gen/proto/labels/v1"
	"github.com/entolabel/specimen-digitizer/internal/entity"
	"github.com/entolabel/specimen-digitizer/internal/export"
	"github.com/entolabel/specimen-digitizer/internal/pipeline"
	"github.com/entolabel/specimen-digitizer/internal/repository"
	"github.com/entolabel/specimen-digitizer/internal/utils"
)

type LabelsService struct {
	labelspb.UnimplementedLabelsServiceServer
	specimens repository.SpecimenRepository
	runs      repository.DigitizeRunRepository
	exporter  *export.Service
	logger    *slog.Logger
}

func NewLabelsService(specimens repository.SpecimenRepository, runs repository.DigitizeRunRepository, exporter *export.Service, logger *slog.Logger) *LabelsService {
	return &LabelsService{
		specimens: specimens,
		runs:      runs,
		exporter:  exporter,
		logger:    logger,
	}
}

// GetLabel returns the consolidated label written by the specimen's
// latest run.
func (s *LabelsService) GetLabel(ctx context.Context, req *labelspb.GetLabelRequest) (*labelspb.GetLabelResponse, error) {
	sp, err := resolveSpecimen(ctx, s.specimens, req.GetSpecimenId(), req.GetCatalogId())
	if err != nil {
		return nil, err
	}

	run, err := s.runs.LatestForSpecimen(ctx, sp.ID)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, status.Error(codes.NotFound, "specimen has not been digitized yet")
		}
		s.logger.Error("failed to load latest run", "specimen_id", sp.ID, "error", err)
		return nil, status.Errorf(codes.Internal, "latest run: %v", err)
	}
	if len(run.ConsolidatedJSON) == 0 {
		return nil, status.Error(codes.NotFound, "specimen has no consolidated label")
	}

	var label pipeline.ConsolidatedLabel
	if err := json.Unmarshal(run.ConsolidatedJSON, &label); err != nil {
		s.logger.Error("stored label is unreadable", "specimen_id", sp.ID, "run_id", run.ID, "error", err)
		return nil, status.Errorf(codes.Internal, "decode label: %v", err)
	}

	return &labelspb.GetLabelResponse{
		Label:      utils.ToPBLabel(&label),
		RunStatus:  utils.StrOrEmpty(run.Status),
		FinishedAt: utils.TimeOrEmpty(run.FinishedAt),
	}, nil
}

// ListSpecimens lists registered specimens, optionally filtered by
// status, in creation order.
func (s *LabelsService) ListSpecimens(ctx context.Context, req *labelspb.ListSpecimensRequest) (*labelspb.ListSpecimensResponse, error) {
	st := strings.TrimSpace(req.GetStatus())
	if st != "" && !knownSpecimenStatus(st) {
		return nil, status.Errorf(codes.InvalidArgument, "unknown status %q", st)
	}

	limit := int(req.GetLimit())
	if limit <= 0 {
		limit = 100
	}

	recs, err := s.specimens.ListByStatus(ctx, st, limit)
	if err != nil {
		s.logger.Error("failed to list specimens", "status", st, "error", err)
		return nil, status.Errorf(codes.Internal, "list specimens: %v", err)
	}

	out := make([]*labelspb.Specimen, 0, len(recs))
	for _, sp := range recs {
		out = append(out, utils.ToPBSpecimen(sp))
	}
	return &labelspb.ListSpecimensResponse{Specimens: out}, nil
}

// ExportLabels renders consolidated labels as an XLSX workbook.
func (s *LabelsService) ExportLabels(ctx context.Context, req *labelspb.ExportLabelsRequest) (*labelspb.ExportLabelsResponse, error) {
	st := strings.TrimSpace(req.GetStatus())
	if st != "" && !knownSpecimenStatus(st) {
		return nil, status.Errorf(codes.InvalidArgument, "unknown status %q", st)
	}

	xlsx, labels, err := s.exporter.ExportLabelsXLSX(ctx, st)
	if err != nil {
		s.logger.Error("export.xlsx.failed", "status", st, "error", err)
		return nil, status.Errorf(codes.Internal, "export: %v", err)
	}
	return &labelspb.ExportLabelsResponse{Xlsx: xlsx, Labels: int32(labels)}, nil
}

func knownSpecimenStatus(s string) bool {
	for _, v := range constants.SpecimenStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// resolveSpecimen finds a specimen by UUID or catalog identifier,
// translating lookup failures into gRPC status errors.
func resolveSpecimen(ctx context.Context, specimens repository.SpecimenRepository, specimenID, catalogID string) (*entity.Specimen, error) {
	if id := strings.TrimSpace(specimenID); id != "" {
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, "specimen_id must be a UUID")
		}
		return lookupSpecimen(specimens.GetByID(ctx, parsed))
	}
	if cid := strings.TrimSpace(catalogID); cid != "" {
		return lookupSpecimen(specimens.GetByCatalogID(ctx, cid))
	}
	return nil, status.Error(codes.InvalidArgument, "specimen_id or catalog_id is required")
}

func lookupSpecimen(sp *entity.Specimen, err error) (*entity.Specimen, error) {
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, status.Error(codes.NotFound, "specimen not found")
		}
		return nil, status.Errorf(codes.Internal, "get specimen: %v", err)
	}
	return sp, nil
}
