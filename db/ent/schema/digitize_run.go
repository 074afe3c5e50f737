package schema

import (
	"encoding/json"
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

type DigitizeRun struct{ ent.Schema }

func (DigitizeRun) Annotations() []schema.Annotation {
	return []schema.Annotation{
		entsql.Annotation{Table: "digitize_run"},
	}
}

func (DigitizeRun) Fields() []ent.Field {
	return []ent.Field{
		field.UUID("id", uuid.UUID{}).Default(uuid.New).Immutable(),
		// explicit FK
		field.UUID("specimen_id", uuid.UUID{}),
		field.String("run_version").NotEmpty(),
		field.String("model_name").NotEmpty(),
		field.Time("started_at").Default(time.Now),
		field.Time("finished_at").Optional().Nillable(),
		field.String("status").Optional().Nillable().
			Validate(utils.EnumValidator(constants.RunStatuses...)),
		field.String("error_message").Optional().Nillable(),
		field.Bool("needs_review").Default(false),
		field.JSON("transcript_json", json.RawMessage{}).
			Optional(),
		field.JSON("consolidated_json", json.RawMessage{}).
			Optional(),
		field.Int("cache_hits").Default(0).NonNegative(),
		field.Int("model_calls").Default(0).NonNegative(),
	}
}

func (DigitizeRun) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("specimen", Specimen.Type).
			Ref("runs").
			Field("specimen_id").
			Unique().
			Required(),
	}
}

func (DigitizeRun) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("specimen_id", "started_at"),
		index.Fields("status", "started_at"),
	}
}
