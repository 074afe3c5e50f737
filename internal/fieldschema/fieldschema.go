// Package fieldschema defines which label fields the vision model is asked
// to read and how each one is described in the prompt.
package fieldschema

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/entolabel/specimen-digitizer/constants"
	"github.com/entolabel/specimen-digitizer/internal/cache"
	"github.com/entolabel/specimen-digitizer/internal/common"
)

// Field describes one label field for the transcription prompt.
type Field struct {
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description" json:"description"`
	Hints       []string `yaml:"hints,omitempty" json:"hints,omitempty"`
}

// Schema is the ordered field list given to the vision model. The order is
// part of the prompt, so it is part of the cache identity too.
type Schema struct {
	Version string  `yaml:"version" json:"version"`
	Fields  []Field `yaml:"fields" json:"fields"`
}

// Load reads a schema from a YAML file.
func Load(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading field schema: %w", err)
	}
	var schema Schema
	if err := yaml.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("parsing field schema: %w", err)
	}
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	return &schema, nil
}

// Default returns the built-in Darwin Core field set.
func Default() *Schema {
	return &Schema{
		Version: "1",
		Fields: []Field{
			{Name: string(constants.FieldCountry), Description: "Country where the specimen was collected."},
			{Name: string(constants.FieldLocality), Description: "Collecting locality as written, including region or municipality."},
			{Name: string(constants.FieldScientificName), Description: "Scientific name of the taxon, genus and species."},
			{Name: string(constants.FieldNameAuthorship), Description: "Authorship following the scientific name, often abbreviated."},
			{Name: string(constants.FieldInstitutionCode), Description: "Code of the holding institution, usually printed on the label."},
			{Name: string(constants.FieldEventDate), Description: "Collecting date exactly as written on the label.", Hints: []string{"day.month.year is common on Finnish labels"}},
			{Name: string(constants.FieldCatalogNumber), Description: "Catalog or accession number of the specimen."},
			{Name: string(constants.FieldRecordNumber), Description: "Collector's field number, if distinct from the catalog number."},
			{Name: string(constants.FieldRecordedBy), Description: "Name of the collector, often after leg. or coll."},
		},
	}
}

// Validate checks the schema holds at least one uniquely named field.
func (s *Schema) Validate() error {
	if len(s.Fields) == 0 {
		return common.NewAppError("FIELD_SCHEMA", "schema defines no fields", common.ErrInvalidInput)
	}
	seen := make(map[string]struct{}, len(s.Fields))
	for _, f := range s.Fields {
		if f.Name == "" {
			return common.NewAppError("FIELD_SCHEMA", "field with empty name", common.ErrInvalidInput)
		}
		if _, dup := seen[f.Name]; dup {
			return common.NewAppError("FIELD_SCHEMA", "duplicate field "+f.Name, common.ErrInvalidInput)
		}
		seen[f.Name] = struct{}{}
	}
	return nil
}

// FieldNames returns the field names in schema order.
func (s *Schema) FieldNames() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// CanonicalBytes renders the schema deterministically for fingerprinting.
func (s *Schema) CanonicalBytes() []byte {
	data, err := yaml.Marshal(s)
	if err != nil {
		// A plain struct of strings cannot fail to marshal.
		panic(fmt.Sprintf("marshaling field schema: %v", err))
	}
	return data
}

// Fingerprint content-addresses the schema.
func (s *Schema) Fingerprint() string {
	return cache.Fingerprint(s.CanonicalBytes())
}
