package utils

import (
	"time"

	labelspb "github.com/entolabel/specimen-digitizer/gen/proto/labels/v1"
	"github.com/entolabel/specimen-digitizer/internal/entity"
	"github.com/entolabel/specimen-digitizer/internal/pipeline"
)

// StrOrEmpty dereferences an optional string column.
func StrOrEmpty(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// TimeOrEmpty formats an optional timestamp as RFC 3339, empty when unset.
func TimeOrEmpty(p *time.Time) string {
	if p == nil {
		return ""
	}
	return p.UTC().Format(time.RFC3339)
}

func ToPBSpecimen(s *entity.Specimen) *labelspb.Specimen {
	return &labelspb.Specimen{
		Id:        s.ID.String(),
		CatalogId: s.CatalogID,
		Source:    s.Source,
		Status:    s.Status,
		CreatedAt: s.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: s.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// ToPBLabel flattens a consolidated label for the wire, fields in name
// order.
func ToPBLabel(l *pipeline.ConsolidatedLabel) *labelspb.ConsolidatedLabel {
	out := &labelspb.ConsolidatedLabel{
		SpecimenId:  l.SpecimenID,
		CatalogId:   l.CatalogID,
		RunVersion:  l.RunVersion,
		Complete:    l.Complete,
		NeedsReview: l.NeedsReview(),
		Fields:      make([]*labelspb.ConsensusField, 0, len(l.Fields)),
	}
	for _, name := range l.FieldNames() {
		f := l.Fields[name]
		out.Fields = append(out.Fields, &labelspb.ConsensusField{
			Name:       name,
			Value:      f.Value,
			Status:     f.Status,
			Confidence: f.Confidence,
			Sources:    f.Sources,
			Rationale:  f.Rationale,
		})
	}
	return out
}
