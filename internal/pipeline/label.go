// Package pipeline drives a specimen from registered images to a
// consolidated label: transcribe every image, align the readings into a
// consensus, and settle the remaining disagreements. Both model-facing
// stages sit behind the result cache, so reprocessing an unchanged
// specimen touches no external service.
package pipeline

import (
	"encoding/json"
	"sort"

	"github.com/entolabel/specimen-digitizer/constants"
)

// ConsensusField is the final reading of one label field.
type ConsensusField struct {
	Value      string  `json:"value,omitempty"`
	Status     string  `json:"status"`
	Confidence float64 `json:"confidence"`
	// Sources lists the image IDs whose readings backed the value.
	Sources   []string `json:"sources,omitempty"`
	Rationale string   `json:"rationale,omitempty"`
}

// ConsolidatedLabel is the structured output of one specimen run. It is
// written once per run and superseded, never mutated, by later runs.
type ConsolidatedLabel struct {
	SpecimenID string                    `json:"specimenId"`
	CatalogID  string                    `json:"catalogId"`
	RunVersion string                    `json:"runVersion"`
	Fields     map[string]ConsensusField `json:"fields"`
	// Complete is true only when every registered image contributed a
	// transcription.
	Complete bool `json:"complete"`
}

// NeedsReview reports whether any field was left for human review.
func (l *ConsolidatedLabel) NeedsReview() bool {
	for _, f := range l.Fields {
		if f.Status == string(constants.FieldNeedsReview) {
			return true
		}
	}
	return false
}

// FieldNames returns the label's field names, sorted.
func (l *ConsolidatedLabel) FieldNames() []string {
	names := make([]string, 0, len(l.Fields))
	for name := range l.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Marshal renders the label as canonical JSON. encoding/json writes map
// keys in sorted order, so equal labels marshal to equal bytes.
func (l *ConsolidatedLabel) Marshal() (json.RawMessage, error) {
	return json.Marshal(l)
}
