package constants

import "strings"

// Field is a label field the engine transcribes and consolidates.
type Field string

const (
	FieldCountry         Field = "country"
	FieldLocality        Field = "locality"
	FieldScientificName  Field = "scientificName"
	FieldNameAuthorship  Field = "scientificNameAuthorship"
	FieldInstitutionCode Field = "institutionCode"
	FieldEventDate       Field = "eventDate"
	FieldCatalogNumber   Field = "catalogNumber"
	FieldRecordNumber    Field = "recordNumber"
	FieldRecordedBy      Field = "recordedBy"
)

// allFields lists every field in canonical output order.
var allFields = []Field{
	FieldCountry,
	FieldLocality,
	FieldScientificName,
	FieldNameAuthorship,
	FieldInstitutionCode,
	FieldEventDate,
	FieldCatalogNumber,
	FieldRecordNumber,
	FieldRecordedBy,
}

// AllFields returns the canonical field order as strings.
func AllFields() []string {
	result := make([]string, len(allFields))
	for i, f := range allFields {
		result[i] = string(f)
	}
	return result
}

// CanonicalField resolves user or model output to a known field name.
// Matching is case-insensitive; unknown names return ("", false).
func CanonicalField(input string) (Field, bool) {
	normalized := strings.ToLower(strings.TrimSpace(input))
	if normalized == "" {
		return "", false
	}
	for _, f := range allFields {
		if normalized == strings.ToLower(string(f)) {
			return f, true
		}
	}
	return "", false
}
