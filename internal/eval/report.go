package eval

import (
	"github.com/entolabel/specimen-digitizer/constants"
	"github.com/entolabel/specimen-digitizer/internal/dwc"
	"github.com/entolabel/specimen-digitizer/internal/pipeline"
)

// FieldStats accumulates agreement counts for one field across a batch.
type FieldStats struct {
	// Agreements counts values the engine read correctly, including
	// fields that are genuinely absent from both label and truth.
	Agreements int
	// Disagreements counts values present on both sides that differ.
	Disagreements int
	// MissingValues counts truth values the engine produced nothing for.
	MissingValues int
	// ExtraValues counts engine values the truth has no entry for.
	ExtraValues int
}

// Compared is the number of labels that contributed to this field.
func (s FieldStats) Compared() int {
	return s.Agreements + s.Disagreements + s.MissingValues + s.ExtraValues
}

// Accuracy is the share of compared labels the engine agreed on.
func (s FieldStats) Accuracy() float64 {
	total := s.Compared()
	if total == 0 {
		return 0
	}
	return float64(s.Agreements) / float64(total)
}

// Mismatch records one disagreement for inspection.
type Mismatch struct {
	CatalogID string
	Field     string
	Got       string
	Want      string
}

// Report is the outcome of scoring a batch of labels.
type Report struct {
	Labels       int
	MissingTruth int
	Fields       map[string]*FieldStats
	Mismatches   []Mismatch
}

// Overall is the agreement share across every field and label.
func (r *Report) Overall() float64 {
	agreed, total := 0, 0
	for _, stats := range r.Fields {
		agreed += stats.Agreements
		total += stats.Compared()
	}
	if total == 0 {
		return 0
	}
	return float64(agreed) / float64(total)
}

// Evaluate scores labels against ground truth keyed by catalog ID.
// Each label is projected to its Darwin Core form first, so dates and
// collector names compare in the shape exports publish, not the
// verbatim reading. Labels without a truth row are counted and
// skipped. Mismatches keep label order, fields in canonical order.
func Evaluate(labels []*pipeline.ConsolidatedLabel, truth []GroundTruthRecord) *Report {
	byID := IndexByCatalogID(truth)
	report := &Report{Fields: make(map[string]*FieldStats, len(constants.AllFields()))}
	for _, name := range constants.AllFields() {
		report.Fields[name] = &FieldStats{}
	}

	for _, label := range labels {
		report.Labels++
		rec, ok := byID[label.CatalogID]
		if !ok {
			report.MissingTruth++
			continue
		}
		projected := dwc.MapLabel(label)
		for _, name := range constants.AllFields() {
			want, _ := rec.FieldValue(name)
			got := recordValue(projected, name)
			stats := report.Fields[name]
			switch {
			case ValuesEqual(got, want, IsListField(name)):
				stats.Agreements++
				continue
			case got == "":
				stats.MissingValues++
			case want == "":
				stats.ExtraValues++
			default:
				stats.Disagreements++
			}
			report.Mismatches = append(report.Mismatches, Mismatch{
				CatalogID: label.CatalogID,
				Field:     name,
				Got:       got,
				Want:      want,
			})
		}
	}
	return report
}

// recordValue reads one term off the projected record. The event date
// falls back to the verbatim reading when normalization failed, so an
// unparseable date still scores against the truth instead of counting
// as missing.
func recordValue(rec dwc.Record, name string) string {
	switch constants.Field(name) {
	case constants.FieldCountry:
		return rec.Country
	case constants.FieldLocality:
		return rec.Locality
	case constants.FieldScientificName:
		return rec.ScientificName
	case constants.FieldNameAuthorship:
		return rec.ScientificNameAuthorship
	case constants.FieldInstitutionCode:
		return rec.InstitutionCode
	case constants.FieldEventDate:
		if rec.EventDate != "" {
			return rec.EventDate
		}
		return rec.VerbatimEventDate
	case constants.FieldCatalogNumber:
		return rec.CatalogNumber
	case constants.FieldRecordNumber:
		return rec.RecordNumber
	case constants.FieldRecordedBy:
		return rec.RecordedBy
	}
	return ""
}
