package repository

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/entolabel/specimen-digitizer/gen/ent"
	entspecimen "github.com/entolabel/specimen-digitizer/gen/ent/specimen"
	"github.com/entolabel/specimen-digitizer/internal/entity"
)

type SpecimenRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Specimen, error)
	GetByCatalogID(ctx context.Context, catalogID string) (*entity.Specimen, error)
	UpsertByCatalogID(ctx context.Context, catalogID, source string, hints map[string]string) (*entity.Specimen, bool, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
	// ListByStatus lists specimens in creation order; empty status means
	// every specimen.
	ListByStatus(ctx context.Context, status string, limit int) ([]*entity.Specimen, error)
}

type specimenRepo struct {
	ent    *ent.Client
	logger *slog.Logger
}

func NewSpecimenRepository(entc *ent.Client, logger *slog.Logger) SpecimenRepository {
	return &specimenRepo{
		ent:    entc,
		logger: logger,
	}
}

func (r *specimenRepo) GetByID(ctx context.Context, id uuid.UUID) (*entity.Specimen, error) {
	row, err := r.ent.Specimen.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return toSpecimen(row), nil
}

func (r *specimenRepo) GetByCatalogID(ctx context.Context, catalogID string) (*entity.Specimen, error) {
	row, err := r.ent.Specimen.Query().
		Where(entspecimen.CatalogID(catalogID)).
		Only(ctx)
	if err != nil {
		return nil, err
	}
	return toSpecimen(row), nil
}

func (r *specimenRepo) UpsertByCatalogID(ctx context.Context, catalogID, source string, hints map[string]string) (*entity.Specimen, bool, error) {
	if existing, err := r.GetByCatalogID(ctx, catalogID); err == nil {
		return existing, true, nil
	}
	create := r.ent.Specimen.Create().
		SetCatalogID(catalogID).
		SetSource(source)
	if len(hints) > 0 {
		create.SetHints(hints)
	}
	row, err := create.Save(ctx)
	if err != nil {
		r.logger.Error("failed to create specimen", "catalog_id", catalogID, "source", source, "error", err)
		return nil, false, err
	}
	return toSpecimen(row), false, nil
}

func (r *specimenRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	_, err := r.ent.Specimen.UpdateOneID(id).
		SetStatus(status).
		Save(ctx)
	if err != nil {
		r.logger.Error("failed to update specimen status", "specimen_id", id, "status", status, "error", err)
		return err
	}
	return nil
}

func (r *specimenRepo) ListByStatus(ctx context.Context, status string, limit int) ([]*entity.Specimen, error) {
	q := r.ent.Specimen.Query().
		Order(entspecimen.ByCreatedAt())
	if status != "" {
		q = q.Where(entspecimen.Status(status))
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	rows, err := q.All(ctx)
	if err != nil {
		r.logger.Error("failed to list specimens", "status", status, "error", err)
		return nil, err
	}
	out := make([]*entity.Specimen, 0, len(rows))
	for _, row := range rows {
		out = append(out, toSpecimen(row))
	}
	return out, nil
}

func toSpecimen(e *ent.Specimen) *entity.Specimen {
	return &entity.Specimen{
		ID:        e.ID,
		CatalogID: e.CatalogID,
		Source:    e.Source,
		Status:    e.Status,
		Hints:     e.Hints,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
}
