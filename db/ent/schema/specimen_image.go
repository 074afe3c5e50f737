package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/dialect"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"

	"github.com/google/uuid"
)

type SpecimenImage struct {
	ent.Schema
}

func (SpecimenImage) Annotations() []schema.Annotation {
	return []schema.Annotation{
		entsql.Annotation{Table: "specimen_images"},
	}
}

func (SpecimenImage) Fields() []ent.Field {
	return []ent.Field{
		field.UUID("id", uuid.UUID{}).
			Default(uuid.New).
			Immutable().
			StorageKey("id"),
		// explicit FK so we can define a composite unique index
		field.UUID("specimen_id", uuid.UUID{}),
		field.String("source_path").NotEmpty(),
		field.String("source_url").Optional().Nillable(),
		field.String("filename").NotEmpty(),
		field.String("mime_type").NotEmpty(),
		field.Bytes("content_hash").NotEmpty().
			SchemaType(map[string]string{dialect.Postgres: "bytea"}),
		field.Int("file_size").NonNegative(),
		// stable ordering of views within a specimen
		field.Int("position").NonNegative(),
		field.Time("uploaded_at").Default(time.Now),
	}
}

func (SpecimenImage) Edges() []ent.Edge {
	return []ent.Edge{
		// MANY images -> ONE specimen
		edge.From("specimen", Specimen.Type).
			Ref("images").
			Field("specimen_id").
			Required().
			Unique(),
	}
}

func (SpecimenImage) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("specimen_id", "content_hash").Unique(),
		index.Fields("specimen_id", "position"),
	}
}
