package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/entolabel/specimen-digitizer/constants"
	"github.com/entolabel/specimen-digitizer/internal/align"
	"github.com/entolabel/specimen-digitizer/internal/arbiter"
	"github.com/entolabel/specimen-digitizer/internal/cache"
	"github.com/entolabel/specimen-digitizer/internal/entity"
	"github.com/entolabel/specimen-digitizer/internal/llm"
	"github.com/entolabel/specimen-digitizer/internal/repository"
)

type memSpecimens struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*entity.Specimen
}

func newMemSpecimens() *memSpecimens {
	return &memSpecimens{rows: make(map[uuid.UUID]*entity.Specimen)}
}

func (m *memSpecimens) add(sp *entity.Specimen) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[sp.ID] = sp
}

func (m *memSpecimens) GetByID(_ context.Context, id uuid.UUID) (*entity.Specimen, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sp, ok := m.rows[id]
	if !ok {
		return nil, fmt.Errorf("specimen %s not found", id)
	}
	return sp, nil
}

func (m *memSpecimens) GetByCatalogID(_ context.Context, catalogID string) (*entity.Specimen, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sp := range m.rows {
		if sp.CatalogID == catalogID {
			return sp, nil
		}
	}
	return nil, fmt.Errorf("specimen %s not found", catalogID)
}

func (m *memSpecimens) UpsertByCatalogID(_ context.Context, catalogID, source string, hints map[string]string) (*entity.Specimen, bool, error) {
	if sp, err := m.GetByCatalogID(context.Background(), catalogID); err == nil {
		return sp, true, nil
	}
	sp := &entity.Specimen{
		ID:        uuid.New(),
		CatalogID: catalogID,
		Source:    source,
		Status:    string(constants.SpecimenStatusPending),
		Hints:     hints,
	}
	m.add(sp)
	return sp, false, nil
}

func (m *memSpecimens) UpdateStatus(_ context.Context, id uuid.UUID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sp, ok := m.rows[id]
	if !ok {
		return fmt.Errorf("specimen %s not found", id)
	}
	sp.Status = status
	return nil
}

func (m *memSpecimens) ListByStatus(_ context.Context, status string, limit int) ([]*entity.Specimen, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.Specimen
	for _, sp := range m.rows {
		if status == "" || sp.Status == status {
			out = append(out, sp)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

type memImages struct {
	mu   sync.Mutex
	rows map[uuid.UUID][]*entity.SpecimenImage
}

func newMemImages() *memImages {
	return &memImages{rows: make(map[uuid.UUID][]*entity.SpecimenImage)}
}

func (m *memImages) add(img *entity.SpecimenImage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[img.SpecimenID] = append(m.rows[img.SpecimenID], img)
}

func (m *memImages) GetByID(_ context.Context, id uuid.UUID) (*entity.SpecimenImage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, imgs := range m.rows {
		for _, img := range imgs {
			if img.ID == id {
				return img, nil
			}
		}
	}
	return nil, fmt.Errorf("image %s not found", id)
}

func (m *memImages) ListBySpecimen(_ context.Context, specimenID uuid.UUID) ([]*entity.SpecimenImage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*entity.SpecimenImage(nil), m.rows[specimenID]...), nil
}

func (m *memImages) UpsertByHash(_ context.Context, img *entity.SpecimenImage) (*entity.SpecimenImage, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.rows[img.SpecimenID] {
		if bytes.Equal(existing.ContentHash, img.ContentHash) {
			return existing, true, nil
		}
	}
	if img.ID == uuid.Nil {
		img.ID = uuid.New()
	}
	m.rows[img.SpecimenID] = append(m.rows[img.SpecimenID], img)
	return img, false, nil
}

type memRuns struct {
	mu   sync.Mutex
	rows []*entity.DigitizeRun
}

func (m *memRuns) Start(_ context.Context, specimenID uuid.UUID, runVersion, modelName string) (*entity.DigitizeRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	status := string(constants.RunStatusRunning)
	run := &entity.DigitizeRun{
		ID:         uuid.New(),
		SpecimenID: specimenID,
		RunVersion: runVersion,
		ModelName:  modelName,
		StartedAt:  time.Now(),
		Status:     &status,
	}
	m.rows = append(m.rows, run)
	return run, nil
}

func (m *memRuns) find(runID uuid.UUID) *entity.DigitizeRun {
	for _, run := range m.rows {
		if run.ID == runID {
			return run
		}
	}
	return nil
}

func (m *memRuns) SaveTranscript(_ context.Context, runID uuid.UUID, transcript json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run := m.find(runID)
	if run == nil {
		return fmt.Errorf("run %s not found", runID)
	}
	run.TranscriptJSON = transcript
	return nil
}

func (m *memRuns) FinishSuccess(_ context.Context, runID uuid.UUID, out repository.RunOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run := m.find(runID)
	if run == nil {
		return fmt.Errorf("run %s not found", runID)
	}
	status := string(constants.RunStatusOK)
	now := time.Now()
	run.Status = &status
	run.FinishedAt = &now
	run.ConsolidatedJSON = out.Consolidated
	run.NeedsReview = out.NeedsReview
	run.CacheHits = out.CacheHits
	run.ModelCalls = out.ModelCalls
	return nil
}

func (m *memRuns) FinishFailure(_ context.Context, runID uuid.UUID, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run := m.find(runID)
	if run == nil {
		return fmt.Errorf("run %s not found", runID)
	}
	status := string(constants.RunStatusFailed)
	now := time.Now()
	run.Status = &status
	run.FinishedAt = &now
	run.ErrorMessage = &message
	return nil
}

func (m *memRuns) LatestForSpecimen(_ context.Context, specimenID uuid.UUID) (*entity.DigitizeRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.rows) - 1; i >= 0; i-- {
		if m.rows[i].SpecimenID == specimenID {
			return m.rows[i], nil
		}
	}
	return nil, fmt.Errorf("no runs for specimen %s", specimenID)
}

func (m *memRuns) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

type processorFixture struct {
	proc      *Processor
	specimens *memSpecimens
	images    *memImages
	runs      *memRuns
	tx        *fakeTranscriber
	con       *fakeConsolidator
}

func newProcessorFixture(t *testing.T) *processorFixture {
	t.Helper()
	logger := testLogger()
	store := cache.NewMemoryStore()
	tx := &fakeTranscriber{}
	con := &fakeConsolidator{}
	schema := twoFieldSchema()

	digitize := NewDigitizeStage(tx, store, "v1", "fake-model", 2, 0, logger)
	engine := align.NewEngine(0.2, logger)
	arb := arbiter.New(con, store, "v1", logger)
	consolidate := NewConsolidateStage(engine, arb, store, schema, "v1", logger)

	specimens := newMemSpecimens()
	images := newMemImages()
	runs := &memRuns{}

	return &processorFixture{
		proc:      NewProcessor(logger, specimens, images, runs, digitize, consolidate, "v1", "fake-model"),
		specimens: specimens,
		images:    images,
		runs:      runs,
		tx:        tx,
		con:       con,
	}
}

func (fx *processorFixture) addSpecimen(t *testing.T, dir string, imageReadings []map[string]llm.Observation) *entity.Specimen {
	t.Helper()
	sp := &entity.Specimen{
		ID:        uuid.New(),
		CatalogID: "GX." + sp4(),
		Source:    "local",
		Status:    string(constants.SpecimenStatusPending),
	}
	fx.specimens.add(sp)
	for i, readings := range imageReadings {
		name := fmt.Sprintf("view%d.jpg", i)
		img := testImage(t, dir, name, i, readings)
		img.SpecimenID = sp.ID
		fx.images.add(img)
	}
	return sp
}

var sp4Counter int

func sp4() string {
	sp4Counter++
	return fmt.Sprintf("%04d", sp4Counter)
}

func TestProcessorRerunMakesNoModelCalls(t *testing.T) {
	fx := newProcessorFixture(t)
	dir := t.TempDir()
	sp := fx.addSpecimen(t, dir, []map[string]llm.Observation{
		{
			"country":  {Text: "Finland", Confidence: 0.9},
			"locality": {Text: "Lot 14", Confidence: 0.8},
		},
		{
			"country":  {Text: "Finland", Confidence: 0.8},
			"locality": {Text: "Lot 41", Confidence: 0.8},
		},
	})

	if err := fx.proc.ProcessSpecimen(context.Background(), sp.ID, false); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if sp.Status != string(constants.SpecimenStatusConsolidated) {
		t.Fatalf("specimen status = %s, want CONSOLIDATED", sp.Status)
	}
	firstRun, err := fx.runs.LatestForSpecimen(context.Background(), sp.ID)
	if err != nil {
		t.Fatal(err)
	}
	if firstRun.ModelCalls != 3 {
		t.Errorf("first run model calls = %d, want 3 (two transcriptions, one arbitration)", firstRun.ModelCalls)
	}
	if firstRun.NeedsReview {
		t.Error("first run flagged for review, arbiter resolved the conflict")
	}

	if err := fx.proc.ProcessSpecimen(context.Background(), sp.ID, true); err != nil {
		t.Fatalf("rerun: %v", err)
	}
	secondRun, err := fx.runs.LatestForSpecimen(context.Background(), sp.ID)
	if err != nil {
		t.Fatal(err)
	}
	if secondRun.ID == firstRun.ID {
		t.Fatal("rerun did not record a new digitize_run")
	}
	if secondRun.ModelCalls != 0 {
		t.Errorf("rerun model calls = %d, want 0: everything must come from the cache", secondRun.ModelCalls)
	}
	if secondRun.CacheHits != 3 {
		t.Errorf("rerun cache hits = %d, want 3", secondRun.CacheHits)
	}
	if !bytes.Equal(firstRun.ConsolidatedJSON, secondRun.ConsolidatedJSON) {
		t.Errorf("rerun label differs:\n%s\n%s", firstRun.ConsolidatedJSON, secondRun.ConsolidatedJSON)
	}
	if fx.tx.callCount() != 2 || fx.con.callCount() != 1 {
		t.Errorf("external calls across both runs: %d transcriptions, %d arbitrations, want 2 and 1",
			fx.tx.callCount(), fx.con.callCount())
	}
}

func TestProcessorSkipsConsolidatedWithoutForce(t *testing.T) {
	fx := newProcessorFixture(t)
	dir := t.TempDir()
	sp := fx.addSpecimen(t, dir, []map[string]llm.Observation{
		{"country": {Text: "Finland", Confidence: 0.9}},
	})

	if err := fx.proc.ProcessSpecimen(context.Background(), sp.ID, false); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := fx.proc.ProcessSpecimen(context.Background(), sp.ID, false); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if fx.runs.count() != 1 {
		t.Errorf("runs recorded = %d, want 1: consolidated specimens are skipped without force", fx.runs.count())
	}
}

func TestProcessorZeroImagesStillConsolidates(t *testing.T) {
	fx := newProcessorFixture(t)
	sp := fx.addSpecimen(t, t.TempDir(), nil)

	if err := fx.proc.ProcessSpecimen(context.Background(), sp.ID, false); err != nil {
		t.Fatalf("run: %v", err)
	}
	if sp.Status != string(constants.SpecimenStatusConsolidated) {
		t.Fatalf("specimen status = %s, want CONSOLIDATED", sp.Status)
	}
	run, err := fx.runs.LatestForSpecimen(context.Background(), sp.ID)
	if err != nil {
		t.Fatal(err)
	}
	var label ConsolidatedLabel
	if err := json.Unmarshal(run.ConsolidatedJSON, &label); err != nil {
		t.Fatalf("consolidated JSON: %v", err)
	}
	if label.Complete {
		t.Error("label.Complete = true for a specimen with no images")
	}
	for name, f := range label.Fields {
		if f.Status != string(constants.FieldIncomplete) {
			t.Errorf("field %s = %+v, want incomplete", name, f)
		}
	}
	if fx.tx.callCount() != 0 || fx.con.callCount() != 0 {
		t.Error("external services consulted for a specimen with no images")
	}
}

func TestProcessorPartialCoverageConsolidatesIncomplete(t *testing.T) {
	fx := newProcessorFixture(t)
	dir := t.TempDir()
	sp := fx.addSpecimen(t, dir, []map[string]llm.Observation{
		{"country": {Text: "Finland", Confidence: 0.9}},
	})
	missing := &entity.SpecimenImage{
		ID:         uuid.New(),
		SpecimenID: sp.ID,
		SourcePath: dir + "/nonexistent.jpg",
		Filename:   "nonexistent.jpg",
		MIMEType:   "image/jpeg",
		Position:   1,
	}
	fx.images.add(missing)

	if err := fx.proc.ProcessSpecimen(context.Background(), sp.ID, false); err != nil {
		t.Fatalf("run: %v", err)
	}
	if sp.Status != string(constants.SpecimenStatusConsolidated) {
		t.Fatalf("specimen status = %s, want CONSOLIDATED despite reduced coverage", sp.Status)
	}
	run, err := fx.runs.LatestForSpecimen(context.Background(), sp.ID)
	if err != nil {
		t.Fatal(err)
	}
	var label ConsolidatedLabel
	if err := json.Unmarshal(run.ConsolidatedJSON, &label); err != nil {
		t.Fatal(err)
	}
	if label.Complete {
		t.Error("label.Complete = true, want false when an image was skipped")
	}
	if got := label.Fields["country"]; got.Status != string(constants.FieldResolved) || got.Value != "Finland" {
		t.Errorf("country = %+v, want resolved from the surviving image", got)
	}
}
