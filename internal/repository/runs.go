package repository

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/entolabel/specimen-digitizer/constants"
	"github.com/entolabel/specimen-digitizer/gen/ent"
	entrun "github.com/entolabel/specimen-digitizer/gen/ent/digitizerun"
	"github.com/entolabel/specimen-digitizer/internal/entity"
)

// RunOutcome carries the results persisted when a run finishes.
type RunOutcome struct {
	Consolidated json.RawMessage
	NeedsReview  bool
	CacheHits    int
	ModelCalls   int
}

type DigitizeRunRepository interface {
	Start(ctx context.Context, specimenID uuid.UUID, runVersion, modelName string) (*entity.DigitizeRun, error)
	SaveTranscript(ctx context.Context, runID uuid.UUID, transcript json.RawMessage) error
	FinishSuccess(ctx context.Context, runID uuid.UUID, out RunOutcome) error
	FinishFailure(ctx context.Context, runID uuid.UUID, message string) error
	LatestForSpecimen(ctx context.Context, specimenID uuid.UUID) (*entity.DigitizeRun, error)
}

type digitizeRunRepo struct {
	ent *ent.Client
	log *slog.Logger
}

func NewDigitizeRunRepository(entc *ent.Client, log *slog.Logger) DigitizeRunRepository {
	return &digitizeRunRepo{ent: entc, log: log}
}

func (r *digitizeRunRepo) Start(ctx context.Context, specimenID uuid.UUID, runVersion, modelName string) (*entity.DigitizeRun, error) {
	row, err := r.ent.DigitizeRun.
		Create().
		SetSpecimenID(specimenID).
		SetRunVersion(runVersion).
		SetModelName(modelName).
		SetStatus(string(constants.RunStatusRunning)).
		Save(ctx)
	if err != nil {
		r.log.Error("digitize_run start failed", "specimen_id", specimenID, "err", err)
		return nil, err
	}
	r.log.Info("digitize_run started", "run_id", row.ID, "specimen_id", specimenID, "run_version", runVersion)
	return toDigitizeRun(row), nil
}

func (r *digitizeRunRepo) SaveTranscript(ctx context.Context, runID uuid.UUID, transcript json.RawMessage) error {
	_, err := r.ent.DigitizeRun.
		UpdateOneID(runID).
		SetTranscriptJSON(transcript).
		Save(ctx)
	if err != nil {
		r.log.Error("digitize_run transcript save failed", "run_id", runID, "err", err)
		return err
	}
	return nil
}

func (r *digitizeRunRepo) FinishSuccess(ctx context.Context, runID uuid.UUID, out RunOutcome) error {
	upd := r.ent.DigitizeRun.
		UpdateOneID(runID).
		SetFinishedAt(time.Now()).
		SetStatus(string(constants.RunStatusOK)).
		SetNeedsReview(out.NeedsReview).
		SetCacheHits(out.CacheHits).
		SetModelCalls(out.ModelCalls)
	if len(out.Consolidated) > 0 {
		upd.SetConsolidatedJSON(out.Consolidated)
	}
	if _, err := upd.Save(ctx); err != nil {
		r.log.Error("digitize_run finish(OK) failed", "run_id", runID, "err", err)
		return err
	}
	r.log.Info("digitize_run finished (OK)", "run_id", runID, "needs_review", out.NeedsReview)
	return nil
}

func (r *digitizeRunRepo) FinishFailure(ctx context.Context, runID uuid.UUID, message string) error {
	_, err := r.ent.DigitizeRun.
		UpdateOneID(runID).
		SetFinishedAt(time.Now()).
		SetStatus(string(constants.RunStatusFailed)).
		SetErrorMessage(message).
		Save(ctx)
	if err != nil {
		r.log.Error("digitize_run finish(FAILED) failed", "run_id", runID, "err", err)
		return err
	}
	r.log.Warn("digitize_run finished (FAILED)", "run_id", runID, "error", message)
	return nil
}

func (r *digitizeRunRepo) LatestForSpecimen(ctx context.Context, specimenID uuid.UUID) (*entity.DigitizeRun, error) {
	row, err := r.ent.DigitizeRun.Query().
		Where(entrun.SpecimenID(specimenID)).
		Order(entrun.ByStartedAt(entsql.OrderDesc())).
		First(ctx)
	if err != nil {
		return nil, err
	}
	return toDigitizeRun(row), nil
}

func toDigitizeRun(e *ent.DigitizeRun) *entity.DigitizeRun {
	return &entity.DigitizeRun{
		ID:               e.ID,
		SpecimenID:       e.SpecimenID,
		RunVersion:       e.RunVersion,
		ModelName:        e.ModelName,
		StartedAt:        e.StartedAt,
		FinishedAt:       e.FinishedAt,
		Status:           e.Status,
		ErrorMessage:     e.ErrorMessage,
		NeedsReview:      e.NeedsReview,
		TranscriptJSON:   e.TranscriptJSON,
		ConsolidatedJSON: e.ConsolidatedJSON,
		CacheHits:        e.CacheHits,
		ModelCalls:       e.ModelCalls,
	}
}
