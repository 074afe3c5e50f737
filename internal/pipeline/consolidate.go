package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"log/slog"

	"github.com/entolabel/specimen-digitizer/constants"
	"github.com/entolabel/specimen-digitizer/internal/align"
	"github.com/entolabel/specimen-digitizer/internal/arbiter"
	"github.com/entolabel/specimen-digitizer/internal/cache"
	"github.com/entolabel/specimen-digitizer/internal/common"
	"github.com/entolabel/specimen-digitizer/internal/entity"
	"github.com/entolabel/specimen-digitizer/internal/fieldschema"
	"github.com/entolabel/specimen-digitizer/internal/transcript"
)

// ConsolidateStage turns a specimen's transcript into a consolidated label:
// per-field alignment first, arbitration for whatever stays contested.
type ConsolidateStage struct {
	engine  *align.Engine
	arb     *arbiter.Arbiter
	store   cache.Store
	schema  *fieldschema.Schema
	version string
	logger  *slog.Logger
}

func NewConsolidateStage(
	engine *align.Engine,
	arb *arbiter.Arbiter,
	store cache.Store,
	schema *fieldschema.Schema,
	version string,
	logger *slog.Logger,
) *ConsolidateStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsolidateStage{
		engine:  engine,
		arb:     arb,
		store:   store,
		schema:  schema,
		version: version,
		logger:  logger,
	}
}

// ConsolidateResult is the outcome of the consolidation stage.
type ConsolidateResult struct {
	Label      *ConsolidatedLabel
	FromCache  bool
	CacheHits  int
	ModelCalls int
}

// Run builds the consolidated label for one specimen. The whole stage sits
// behind a single cache entry keyed on the transcript, so an unchanged
// specimen resolves without consulting the arbiter at all. The returned
// error is non-nil only when cache storage fails.
func (s *ConsolidateStage) Run(ctx context.Context, sp *entity.Specimen, ts *transcript.Store, transcriptComplete bool) (*ConsolidateResult, error) {
	promptFP := cache.FingerprintStrings(
		"consolidate",
		s.engine.Fingerprint(),
		s.arb.Fingerprint(),
		s.schema.Fingerprint(),
	)
	inputFP := ts.Fingerprint()
	key := cache.Key(cache.StageConsolidation, s.version, promptFP, inputFP)

	if entry, ok := s.store.Get(key); ok {
		var label ConsolidatedLabel
		if err := json.Unmarshal(entry.Result, &label); err == nil {
			s.logger.Debug("consolidate.cached", "specimen_id", sp.ID, "key", key)
			return &ConsolidateResult{Label: &label, FromCache: true, CacheHits: 1}, nil
		}
		s.logger.Warn("consolidate.cache.result_undecodable", "key", key)
	}

	res := &ConsolidateResult{}
	fields := make(map[string]ConsensusField, len(s.schema.Fields))
	settled := make(map[string]string)

	for _, name := range s.schema.FieldNames() {
		obs := ts.Field(name)
		fc := s.engine.MergeField(name, toWitnesses(obs))

		switch fc.Status {
		case constants.FieldIncomplete:
			fields[name] = ConsensusField{Status: string(constants.FieldIncomplete)}

		case constants.FieldResolved:
			fields[name] = ConsensusField{
				Value:      fc.Value,
				Status:     string(constants.FieldResolved),
				Confidence: fc.Confidence,
				Sources:    fc.Witnesses,
			}
			settled[name] = fc.Value

		case constants.FieldConflict:
			out, err := s.arb.Settle(ctx, arbiter.Input{
				Field:        name,
				Observations: obs,
				Resolved:     settled,
			})
			if err != nil {
				return nil, err
			}
			if out.FromCache {
				res.CacheHits++
			} else {
				res.ModelCalls++
			}
			if out.Status == constants.FieldResolved {
				fields[name] = ConsensusField{
					Value:      out.Value,
					Status:     string(constants.FieldResolved),
					Confidence: fc.Confidence,
					Sources:    fc.Witnesses,
					Rationale:  out.Rationale,
				}
				settled[name] = out.Value
			} else {
				fields[name] = ConsensusField{
					Status:     string(constants.FieldNeedsReview),
					Confidence: fc.Confidence,
					Sources:    fc.Witnesses,
				}
			}
		}
	}

	label := &ConsolidatedLabel{
		SpecimenID: sp.ID.String(),
		CatalogID:  sp.CatalogID,
		RunVersion: s.version,
		Fields:     fields,
		Complete:   transcriptComplete,
	}
	res.Label = label

	result, err := label.Marshal()
	if err != nil {
		return nil, err
	}
	if err := s.store.Put(key, cache.Entry{
		Key:              key,
		Stage:            cache.StageConsolidation,
		InputFingerprint: inputFP,
		Result:           result,
		Timestamp:        time.Now().UTC(),
	}); err != nil {
		if common.IsFatal(err) {
			return nil, err
		}
		s.logger.Warn("consolidate.cache.put_failed", "key", key, "error", err)
	}

	s.logger.Info("consolidate.done",
		"specimen_id", sp.ID,
		"complete", label.Complete,
		"needs_review", label.NeedsReview(),
		"arbiter_calls", res.ModelCalls,
	)
	return res, nil
}

func toWitnesses(obs []transcript.Observation) []align.Witness {
	ws := make([]align.Witness, 0, len(obs))
	for _, o := range obs {
		ws = append(ws, align.Witness{
			ImageID:    o.ImageID,
			Text:       o.Text,
			Confidence: o.Confidence,
		})
	}
	return ws
}
