package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/entolabel/specimen-digitizer/constants"
	"github.com/entolabel/specimen-digitizer/internal/entity"
	"github.com/entolabel/specimen-digitizer/internal/pipeline"
	"github.com/entolabel/specimen-digitizer/internal/repository"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSpecimens struct {
	rows       []*entity.Specimen
	lastStatus string
}

func (f *fakeSpecimens) GetByID(context.Context, uuid.UUID) (*entity.Specimen, error) {
	return nil, errors.New("not used")
}

func (f *fakeSpecimens) GetByCatalogID(context.Context, string) (*entity.Specimen, error) {
	return nil, errors.New("not used")
}

func (f *fakeSpecimens) UpsertByCatalogID(context.Context, string, string, map[string]string) (*entity.Specimen, bool, error) {
	return nil, false, errors.New("not used")
}

func (f *fakeSpecimens) UpdateStatus(context.Context, uuid.UUID, string) error {
	return errors.New("not used")
}

func (f *fakeSpecimens) ListByStatus(_ context.Context, status string, _ int) ([]*entity.Specimen, error) {
	f.lastStatus = status
	return f.rows, nil
}

type fakeRuns struct {
	labels map[uuid.UUID]json.RawMessage
}

func (f *fakeRuns) Start(context.Context, uuid.UUID, string, string) (*entity.DigitizeRun, error) {
	return nil, errors.New("not used")
}

func (f *fakeRuns) SaveTranscript(context.Context, uuid.UUID, json.RawMessage) error {
	return errors.New("not used")
}

func (f *fakeRuns) FinishSuccess(context.Context, uuid.UUID, repository.RunOutcome) error {
	return errors.New("not used")
}

func (f *fakeRuns) FinishFailure(context.Context, uuid.UUID, string) error {
	return errors.New("not used")
}

func (f *fakeRuns) LatestForSpecimen(_ context.Context, specimenID uuid.UUID) (*entity.DigitizeRun, error) {
	raw, ok := f.labels[specimenID]
	if !ok {
		return nil, errors.New("no runs")
	}
	return &entity.DigitizeRun{
		ID:               uuid.New(),
		SpecimenID:       specimenID,
		StartedAt:        time.Now(),
		ConsolidatedJSON: raw,
	}, nil
}

func marshalLabel(t *testing.T, catalogID string, complete bool, fields map[string]pipeline.ConsensusField) json.RawMessage {
	t.Helper()
	l := pipeline.ConsolidatedLabel{
		SpecimenID: uuid.NewString(),
		CatalogID:  catalogID,
		RunVersion: "1",
		Fields:     fields,
		Complete:   complete,
	}
	raw, err := l.Marshal()
	if err != nil {
		t.Fatalf("marshal label: %v", err)
	}
	return raw
}

func TestExportLabelsXLSX(t *testing.T) {
	sp1 := &entity.Specimen{ID: uuid.New(), CatalogID: "GX.1", Status: string(constants.SpecimenStatusConsolidated)}
	sp2 := &entity.Specimen{ID: uuid.New(), CatalogID: "GX.2", Status: string(constants.SpecimenStatusConsolidated)}

	specimens := &fakeSpecimens{rows: []*entity.Specimen{sp1, sp2}}
	runs := &fakeRuns{labels: map[uuid.UUID]json.RawMessage{
		sp1.ID: marshalLabel(t, "GX.1", true, map[string]pipeline.ConsensusField{
			"locality": {Status: string(constants.FieldNeedsReview), Rationale: "model unavailable"},
			"country":  {Value: "Finland", Status: string(constants.FieldResolved), Confidence: 0.93, Sources: []string{"img-1", "img-2"}},
		}),
		sp2.ID: marshalLabel(t, "GX.2", false, map[string]pipeline.ConsensusField{
			"country": {Value: "Sweden", Status: string(constants.FieldResolved), Confidence: 0.8, Sources: []string{"img-3"}},
		}),
	}}

	out, labels, err := NewService(specimens, runs, testLogger()).ExportLabelsXLSX(context.Background(), "")
	if err != nil {
		t.Fatalf("ExportLabelsXLSX: %v", err)
	}
	if labels != 2 {
		t.Errorf("labels = %d, want 2", labels)
	}
	if specimens.lastStatus != string(constants.SpecimenStatusConsolidated) {
		t.Errorf("queried status = %q, want consolidated default", specimens.lastStatus)
	}

	wb, err := excelize.OpenReader(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer wb.Close()

	cell := func(ref string) string {
		t.Helper()
		v, err := wb.GetCellValue(sheetName, ref)
		if err != nil {
			t.Fatalf("GetCellValue(%s): %v", ref, err)
		}
		return v
	}

	if got := cell("A1"); got != "Catalog ID" {
		t.Errorf("A1 = %q", got)
	}

	// Fields come out in name order: GX.1 country, GX.1 locality, GX.2 country.
	if got := cell("B2"); got != "country" {
		t.Errorf("B2 = %q, want country", got)
	}
	if got := cell("C2"); got != "Finland" {
		t.Errorf("C2 = %q", got)
	}
	if got := cell("E2"); got != "0.93" {
		t.Errorf("E2 = %q", got)
	}
	if got := cell("F2"); got != "2" {
		t.Errorf("F2 = %q", got)
	}
	if got := cell("H2"); got != "TRUE" {
		t.Errorf("H2 = %q", got)
	}

	if got := cell("B3"); got != "locality" {
		t.Errorf("B3 = %q, want locality", got)
	}
	if got := cell("C3"); got != "" {
		t.Errorf("C3 = %q, want empty value for needs-review field", got)
	}
	if got := cell("D3"); got != string(constants.FieldNeedsReview) {
		t.Errorf("D3 = %q", got)
	}

	if got := cell("A4"); got != "GX.2" {
		t.Errorf("A4 = %q, want GX.2", got)
	}
	if got := cell("H4"); got != "FALSE" {
		t.Errorf("H4 = %q", got)
	}
}

func TestExportSkipsSpecimensWithoutLabel(t *testing.T) {
	labeled := &entity.Specimen{ID: uuid.New(), CatalogID: "GX.10", Status: string(constants.SpecimenStatusConsolidated)}
	bare := &entity.Specimen{ID: uuid.New(), CatalogID: "GX.11", Status: string(constants.SpecimenStatusConsolidated)}

	specimens := &fakeSpecimens{rows: []*entity.Specimen{bare, labeled}}
	runs := &fakeRuns{labels: map[uuid.UUID]json.RawMessage{
		labeled.ID: marshalLabel(t, "GX.10", true, map[string]pipeline.ConsensusField{
			"country": {Value: "Norway", Status: string(constants.FieldResolved), Confidence: 1},
		}),
	}}

	out, labels, err := NewService(specimens, runs, testLogger()).ExportLabelsXLSX(context.Background(), "")
	if err != nil {
		t.Fatalf("ExportLabelsXLSX: %v", err)
	}
	if labels != 1 {
		t.Errorf("labels = %d, want 1", labels)
	}

	wb, err := excelize.OpenReader(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer wb.Close()

	got, err := wb.GetCellValue(sheetName, "A2")
	if err != nil {
		t.Fatalf("GetCellValue: %v", err)
	}
	if got != "GX.10" {
		t.Errorf("A2 = %q, want GX.10", got)
	}
}
