// Package arbiter settles fields the alignment engine could not resolve.
// Each disagreement goes to the consolidation collaborator exactly once;
// a failed or malformed answer leaves the field for human review, it never
// invents a value and never retries.
package arbiter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/entolabel/specimen-digitizer/constants"
	"github.com/entolabel/specimen-digitizer/internal/cache"
	"github.com/entolabel/specimen-digitizer/internal/common"
	"github.com/entolabel/specimen-digitizer/internal/llm"
	"github.com/entolabel/specimen-digitizer/internal/transcript"
)

// Input is one contested field with its evidence.
type Input struct {
	Field        string
	Observations []transcript.Observation
	Resolved     map[string]string // settled sibling fields for context
}

// Outcome is the arbitration result for one field.
type Outcome struct {
	Status    constants.FieldStatus // resolved or needs-review
	Value     string
	Rationale string
	FromCache bool
}

// Arbiter coordinates consolidation calls behind the result cache.
type Arbiter struct {
	consolidator llm.Consolidator
	store        cache.Store
	version      string
	logger       *slog.Logger
}

func New(consolidator llm.Consolidator, store cache.Store, version string, logger *slog.Logger) *Arbiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Arbiter{
		consolidator: consolidator,
		store:        store,
		version:      version,
		logger:       logger,
	}
}

// Fingerprint identifies the arbitration behavior for cache key derivation.
func (a *Arbiter) Fingerprint() string {
	return a.consolidator.ConsolidationFingerprint()
}

// Settle resolves one contested field. The returned error is non-nil only
// when the cache storage itself is unusable; every model-side failure
// becomes a needs-review outcome instead.
func (a *Arbiter) Settle(ctx context.Context, in Input) (Outcome, error) {
	if len(in.Observations) == 0 {
		return Outcome{Status: constants.FieldNeedsReview}, nil
	}

	req := buildRequest(in)
	key := cache.Key(
		cache.StageConsolidation,
		a.version,
		a.consolidator.ConsolidationFingerprint(),
		requestFingerprint(req),
	)

	if entry, found := a.store.Get(key); found {
		var decision llm.Decision
		if err := json.Unmarshal(entry.Result, &decision); err == nil && strings.TrimSpace(decision.Value) != "" {
			a.logger.Info("arbiter.settle.cache_hit", "field", in.Field, "key", key)
			return Outcome{
				Status:    constants.FieldResolved,
				Value:     strings.TrimSpace(decision.Value),
				Rationale: decision.Rationale,
				FromCache: true,
			}, nil
		}
		a.logger.Warn("arbiter.settle.cache_entry_unusable", "field", in.Field, "key", key)
	}

	decision, raw, err := a.consolidator.Consolidate(ctx, req)
	if err != nil {
		event := "arbiter.settle.call_failed"
		if errors.Is(err, common.ErrArbiterContract) {
			event = "arbiter.settle.contract_violation"
		}
		a.logger.Error(event, "field", in.Field, "error", err)
		return Outcome{Status: constants.FieldNeedsReview}, nil
	}

	if err := a.store.Put(key, cache.Entry{
		Stage:            cache.StageConsolidation,
		InputFingerprint: requestFingerprint(req),
		Result:           json.RawMessage(raw),
	}); err != nil {
		if common.IsFatal(err) {
			return Outcome{}, fmt.Errorf("caching decision for %s: %w", in.Field, err)
		}
		a.logger.Warn("arbiter.settle.cache_put_failed", "field", in.Field, "error", err)
	}

	return Outcome{
		Status:    constants.FieldResolved,
		Value:     decision.Value,
		Rationale: decision.Rationale,
	}, nil
}

// buildRequest orders candidates by position then image so an identical
// disagreement always produces an identical request.
func buildRequest(in Input) llm.ConsolidateRequest {
	candidates := make([]llm.FieldCandidate, 0, len(in.Observations))
	for _, obs := range in.Observations {
		candidates = append(candidates, llm.FieldCandidate{
			Position:   obs.Position,
			ImageID:    obs.ImageID,
			Text:       obs.Text,
			Confidence: obs.Confidence,
		})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Position != candidates[j].Position {
			return candidates[i].Position < candidates[j].Position
		}
		return candidates[i].ImageID < candidates[j].ImageID
	})

	fields := make([]string, 0, len(in.Resolved))
	for f := range in.Resolved {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	context := make([]llm.ResolvedField, 0, len(fields))
	for _, f := range fields {
		context = append(context, llm.ResolvedField{Field: f, Value: in.Resolved[f]})
	}

	return llm.ConsolidateRequest{
		Field:      in.Field,
		Candidates: candidates,
		Context:    context,
	}
}

// requestFingerprint content-addresses a consolidation request.
func requestFingerprint(req llm.ConsolidateRequest) string {
	parts := [][]byte{[]byte(req.Field), []byte("candidates")}
	for _, c := range req.Candidates {
		parts = append(parts,
			[]byte(c.Position),
			[]byte(c.ImageID),
			[]byte(c.Text),
			[]byte(strconv.FormatFloat(c.Confidence, 'g', -1, 64)),
		)
	}
	parts = append(parts, []byte("context"))
	for _, rf := range req.Context {
		parts = append(parts, []byte(rf.Field), []byte(rf.Value))
	}
	return cache.Fingerprint(parts...)
}
