package repository

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/entolabel/specimen-digitizer/gen/ent"
	entimage "github.com/entolabel/specimen-digitizer/gen/ent/specimenimage"
	"github.com/entolabel/specimen-digitizer/internal/entity"
)

type SpecimenImageRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entity.SpecimenImage, error)
	// ListBySpecimen returns the specimen's images ordered by position.
	ListBySpecimen(ctx context.Context, specimenID uuid.UUID) ([]*entity.SpecimenImage, error)
	UpsertByHash(ctx context.Context, img *entity.SpecimenImage) (*entity.SpecimenImage, bool, error)
}

type specimenImageRepo struct {
	ent    *ent.Client
	logger *slog.Logger
}

func NewSpecimenImageRepository(entc *ent.Client, logger *slog.Logger) SpecimenImageRepository {
	return &specimenImageRepo{
		ent:    entc,
		logger: logger,
	}
}

func (r *specimenImageRepo) GetByID(ctx context.Context, id uuid.UUID) (*entity.SpecimenImage, error) {
	row, err := r.ent.SpecimenImage.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return toSpecimenImage(row), nil
}

func (r *specimenImageRepo) ListBySpecimen(ctx context.Context, specimenID uuid.UUID) ([]*entity.SpecimenImage, error) {
	rows, err := r.ent.SpecimenImage.Query().
		Where(entimage.SpecimenID(specimenID)).
		Order(entimage.ByPosition()).
		All(ctx)
	if err != nil {
		r.logger.Error("failed to list specimen images", "specimen_id", specimenID, "error", err)
		return nil, err
	}
	out := make([]*entity.SpecimenImage, 0, len(rows))
	for _, row := range rows {
		out = append(out, toSpecimenImage(row))
	}
	return out, nil
}

func (r *specimenImageRepo) getByHash(ctx context.Context, specimenID uuid.UUID, hash []byte) (*entity.SpecimenImage, error) {
	row, err := r.ent.SpecimenImage.Query().
		Where(
			entimage.SpecimenID(specimenID),
			entimage.ContentHash(hash),
		).Only(ctx)
	if err != nil {
		return nil, err
	}
	return toSpecimenImage(row), nil
}

func (r *specimenImageRepo) UpsertByHash(ctx context.Context, img *entity.SpecimenImage) (*entity.SpecimenImage, bool, error) {
	if existing, err := r.getByHash(ctx, img.SpecimenID, img.ContentHash); err == nil {
		return existing, true, nil
	}
	create := r.ent.SpecimenImage.Create().
		SetSpecimenID(img.SpecimenID).
		SetSourcePath(img.SourcePath).
		SetFilename(img.Filename).
		SetMimeType(img.MIMEType).
		SetContentHash(img.ContentHash).
		SetFileSize(img.FileSize).
		SetPosition(img.Position).
		SetUploadedAt(img.UploadedAt)
	if img.SourceURL != nil {
		create.SetSourceURL(*img.SourceURL)
	}
	row, err := create.Save(ctx)
	if err != nil {
		r.logger.Error("failed to create specimen image", "specimen_id", img.SpecimenID, "source_path", img.SourcePath, "error", err)
		return nil, false, err
	}
	return toSpecimenImage(row), false, nil
}

func toSpecimenImage(e *ent.SpecimenImage) *entity.SpecimenImage {
	return &entity.SpecimenImage{
		ID:          e.ID,
		SpecimenID:  e.SpecimenID,
		SourcePath:  e.SourcePath,
		SourceURL:   e.SourceURL,
		Filename:    e.Filename,
		MIMEType:    e.MimeType,
		ContentHash: e.ContentHash,
		FileSize:    e.FileSize,
		Position:    e.Position,
		UploadedAt:  e.UploadedAt,
	}
}
