package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"

	"github.com/google/uuid"

	"github.com/entolabel/specimen-digitizer/constants"
	"github.com/entolabel/specimen-digitizer/db/ent/schema/utils"
)

type Specimen struct {
	ent.Schema
}

func (Specimen) Annotations() []schema.Annotation {
	return []schema.Annotation{
		entsql.Annotation{Table: "specimens"},
	}
}

func (Specimen) Fields() []ent.Field {
	return []ent.Field{
		field.UUID("id", uuid.UUID{}).
			Default(uuid.New).
			Immutable().
			StorageKey("id"),
		// external catalog identifier, e.g. a FinBIF document URI
		field.String("catalog_id").NotEmpty().Unique(),
		field.String("source").NotEmpty(),
		field.String("status").
			Default(string(constants.SpecimenStatusPending)).
			Validate(utils.EnumValidator(constants.SpecimenStatuses...)),
		field.JSON("hints", map[string]string{}).Optional(),
		field.Time("created_at").Default(time.Now),
		field.Time("updated_at").Default(time.Now).UpdateDefault(time.Now),
	}
}

func (Specimen) Edges() []ent.Edge {
	return []ent.Edge{
		// ONE specimen -> MANY images
		edge.To("images", SpecimenImage.Type),
		// ONE specimen -> MANY runs
		edge.To("runs", DigitizeRun.Type),
	}
}

func (Specimen) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("status", "updated_at"),
	}
}
