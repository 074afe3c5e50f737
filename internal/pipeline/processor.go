package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/entolabel/specimen-digitizer/constants"
	"github.com/entolabel/specimen-digitizer/internal/common"
	"github.com/entolabel/specimen-digitizer/internal/repository"
	"github.com/entolabel/specimen-digitizer/internal/transcript"
)

// Processor walks one specimen through the digitize and consolidate stages,
// recording progress on the specimen row and a digitize_run row.
type Processor struct {
	logger      *slog.Logger
	specimens   repository.SpecimenRepository
	images      repository.SpecimenImageRepository
	runs        repository.DigitizeRunRepository
	digitize    *DigitizeStage
	consolidate *ConsolidateStage
	runVersion  string
	modelName   string
}

func NewProcessor(
	logger *slog.Logger,
	specimens repository.SpecimenRepository,
	images repository.SpecimenImageRepository,
	runs repository.DigitizeRunRepository,
	digitize *DigitizeStage,
	consolidate *ConsolidateStage,
	runVersion, modelName string,
) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		logger:      logger,
		specimens:   specimens,
		images:      images,
		runs:        runs,
		digitize:    digitize,
		consolidate: consolidate,
		runVersion:  runVersion,
		modelName:   modelName,
	}
}

// ProcessSpecimen runs both stages for one specimen. Consolidated specimens
// are skipped unless force is set; rerunning an unchanged specimen resolves
// entirely from the cache either way.
func (p *Processor) ProcessSpecimen(ctx context.Context, specimenID uuid.UUID, force bool) error {
	ctx = common.WithSpecimenID(ctx, specimenID.String())
	sp, err := p.specimens.GetByID(ctx, specimenID)
	if err != nil {
		return fmt.Errorf("get specimen: %w", err)
	}
	if sp.Status == string(constants.SpecimenStatusConsolidated) && !force {
		p.logger.Info("processor.skip.already_consolidated", "specimen_id", specimenID)
		return nil
	}

	imgs, err := p.images.ListBySpecimen(ctx, specimenID)
	if err != nil {
		return fmt.Errorf("list images: %w", err)
	}

	run, err := p.runs.Start(ctx, specimenID, p.runVersion, p.modelName)
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}

	digRes, err := p.digitize.Run(ctx, sp, imgs)
	if err != nil {
		p.fail(ctx, run.ID, specimenID, err)
		return err
	}

	ts := transcript.NewStore(sp.ID.String())
	for _, obs := range digRes.Observations {
		ts.Add(obs)
	}
	transcriptJSON, err := json.Marshal(digRes.Observations)
	if err == nil {
		err = p.runs.SaveTranscript(ctx, run.ID, transcriptJSON)
	}
	if err != nil {
		p.fail(ctx, run.ID, specimenID, err)
		return fmt.Errorf("save transcript: %w", err)
	}
	if err := p.specimens.UpdateStatus(ctx, specimenID, string(constants.SpecimenStatusDigitized)); err != nil {
		p.fail(ctx, run.ID, specimenID, err)
		return err
	}
	p.logger.Debug("processor.digitize.ok",
		"specimen_id", specimenID,
		"run_id", run.ID,
		"images", len(imgs),
		"observations", ts.Len(),
		"complete", digRes.Complete,
		"cache_hits", digRes.CacheHits,
		"model_calls", digRes.ModelCalls,
	)

	conRes, err := p.consolidate.Run(ctx, sp, ts, digRes.Complete)
	if err != nil {
		p.fail(ctx, run.ID, specimenID, err)
		return err
	}

	consolidatedJSON, err := conRes.Label.Marshal()
	if err != nil {
		p.fail(ctx, run.ID, specimenID, err)
		return err
	}
	if err := p.runs.FinishSuccess(ctx, run.ID, repository.RunOutcome{
		Consolidated: consolidatedJSON,
		NeedsReview:  conRes.Label.NeedsReview(),
		CacheHits:    digRes.CacheHits + conRes.CacheHits,
		ModelCalls:   digRes.ModelCalls + conRes.ModelCalls,
	}); err != nil {
		return err
	}
	if err := p.specimens.UpdateStatus(ctx, specimenID, string(constants.SpecimenStatusConsolidated)); err != nil {
		return err
	}

	p.logger.Info("processor.consolidate.ok",
		"specimen_id", specimenID,
		"run_id", run.ID,
		"complete", conRes.Label.Complete,
		"needs_review", conRes.Label.NeedsReview(),
		"cache_hits", digRes.CacheHits+conRes.CacheHits,
		"model_calls", digRes.ModelCalls+conRes.ModelCalls,
	)
	return nil
}

// fail marks both the run and the specimen; the original error is what the
// caller reports, failures here are only logged.
func (p *Processor) fail(ctx context.Context, runID, specimenID uuid.UUID, cause error) {
	if err := p.runs.FinishFailure(ctx, runID, cause.Error()); err != nil {
		p.logger.Error("processor.run.finish_failed", "run_id", runID, "error", err)
	}
	if err := p.specimens.UpdateStatus(ctx, specimenID, string(constants.SpecimenStatusFailed)); err != nil {
		p.logger.Error("processor.specimen.mark_failed", "specimen_id", specimenID, "error", err)
	}
}
