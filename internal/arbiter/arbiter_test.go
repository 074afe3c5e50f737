package arbiter

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/entolabel/specimen-digitizer/constants"
	"github.com/entolabel/specimen-digitizer/internal/cache"
	"github.com/entolabel/specimen-digitizer/internal/common"
	"github.com/entolabel/specimen-digitizer/internal/llm"
	"github.com/entolabel/specimen-digitizer/internal/transcript"
)

type fakeConsolidator struct {
	decision llm.Decision
	raw      []byte
	err      error

	calls    int
	requests []llm.ConsolidateRequest
}

func (f *fakeConsolidator) Consolidate(_ context.Context, req llm.ConsolidateRequest) (llm.Decision, []byte, error) {
	f.calls++
	f.requests = append(f.requests, req)
	if f.err != nil {
		return llm.Decision{}, nil, f.err
	}
	return f.decision, f.raw, nil
}

func (f *fakeConsolidator) ConsolidationFingerprint() string {
	return "fake-consolidator-fp"
}

func contestedInput() Input {
	return Input{
		Field: "catalogNumber",
		Observations: []transcript.Observation{
			{ImageID: "img-b", Position: "back", Field: "catalogNumber", Text: "Lot 41", Confidence: 0.8},
			{ImageID: "img-a", Position: "front", Field: "catalogNumber", Text: "Lot 14", Confidence: 0.8},
		},
		Resolved: map[string]string{
			"locality": "Helsinki",
			"country":  "Finland",
		},
	}
}

func TestSettleResolves(t *testing.T) {
	fake := &fakeConsolidator{
		decision: llm.Decision{Value: "Lot 14", Rationale: "matches the series"},
		raw:      []byte(`{"value":"Lot 14","rationale":"matches the series"}`),
	}
	a := New(fake, cache.NewMemoryStore(), "1", nil)

	out, err := a.Settle(context.Background(), contestedInput())
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if out.Status != constants.FieldResolved {
		t.Errorf("Status = %q, want resolved", out.Status)
	}
	if out.Value != "Lot 14" {
		t.Errorf("Value = %q, want %q", out.Value, "Lot 14")
	}
	if out.FromCache {
		t.Error("first settlement reported as cached")
	}
	if fake.calls != 1 {
		t.Errorf("consolidator called %d times, want 1", fake.calls)
	}
}

func TestSettleRequestIsDeterministic(t *testing.T) {
	fake := &fakeConsolidator{
		decision: llm.Decision{Value: "Lot 14"},
		raw:      []byte(`{"value":"Lot 14"}`),
	}
	a := New(fake, cache.NewMemoryStore(), "1", nil)

	in := contestedInput()
	if _, err := a.Settle(context.Background(), in); err != nil {
		t.Fatalf("Settle: %v", err)
	}

	// Same evidence in a different order must produce the same request.
	flipped := in
	flipped.Observations = []transcript.Observation{in.Observations[1], in.Observations[0]}
	b := New(fake, cache.NewMemoryStore(), "1", nil)
	if _, err := b.Settle(context.Background(), flipped); err != nil {
		t.Fatalf("Settle flipped: %v", err)
	}

	if len(fake.requests) != 2 {
		t.Fatalf("recorded %d requests, want 2", len(fake.requests))
	}
	if !reflect.DeepEqual(fake.requests[0], fake.requests[1]) {
		t.Errorf("requests differ:\n%+v\n%+v", fake.requests[0], fake.requests[1])
	}

	req := fake.requests[0]
	if req.Candidates[0].ImageID != "img-b" || req.Candidates[1].ImageID != "img-a" {
		t.Errorf("candidates not ordered by position then image: %+v", req.Candidates)
	}
	if req.Context[0].Field != "country" || req.Context[1].Field != "locality" {
		t.Errorf("context not sorted by field: %+v", req.Context)
	}
}

func TestSettleCachesDecision(t *testing.T) {
	fake := &fakeConsolidator{
		decision: llm.Decision{Value: "Lot 14"},
		raw:      []byte(`{"value":"Lot 14"}`),
	}
	store := cache.NewMemoryStore()
	a := New(fake, store, "1", nil)

	in := contestedInput()
	if _, err := a.Settle(context.Background(), in); err != nil {
		t.Fatalf("first Settle: %v", err)
	}
	out, err := a.Settle(context.Background(), in)
	if err != nil {
		t.Fatalf("second Settle: %v", err)
	}

	if fake.calls != 1 {
		t.Errorf("consolidator called %d times, want 1: second call must hit the cache", fake.calls)
	}
	if !out.FromCache {
		t.Error("second settlement not marked as cached")
	}
	if out.Value != "Lot 14" {
		t.Errorf("cached Value = %q, want %q", out.Value, "Lot 14")
	}
}

func TestSettleContractViolationNeedsReview(t *testing.T) {
	fake := &fakeConsolidator{err: common.NewAppError("ARBITER_EMPTY", "empty decision value", common.ErrArbiterContract)}
	a := New(fake, cache.NewMemoryStore(), "1", nil)

	out, err := a.Settle(context.Background(), contestedInput())
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if out.Status != constants.FieldNeedsReview {
		t.Errorf("Status = %q, want needs-review", out.Status)
	}
	if out.Value != "" {
		t.Errorf("Value = %q, want empty: no value may be invented", out.Value)
	}
	if fake.calls != 1 {
		t.Errorf("consolidator called %d times, want exactly 1: no retries", fake.calls)
	}
}

func TestSettleExternalFailureNeedsReview(t *testing.T) {
	fake := &fakeConsolidator{err: errors.New("transient network failure")}
	a := New(fake, cache.NewMemoryStore(), "1", nil)

	out, err := a.Settle(context.Background(), contestedInput())
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if out.Status != constants.FieldNeedsReview {
		t.Errorf("Status = %q, want needs-review", out.Status)
	}
	if fake.calls != 1 {
		t.Errorf("consolidator called %d times, want exactly 1", fake.calls)
	}
}

func TestSettleNoEvidence(t *testing.T) {
	fake := &fakeConsolidator{}
	a := New(fake, cache.NewMemoryStore(), "1", nil)

	out, err := a.Settle(context.Background(), Input{Field: "locality"})
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if out.Status != constants.FieldNeedsReview {
		t.Errorf("Status = %q, want needs-review", out.Status)
	}
	if fake.calls != 0 {
		t.Errorf("consolidator called %d times for empty evidence, want 0", fake.calls)
	}
}
