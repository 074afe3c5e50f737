// Package dwc renders consolidated labels as Simple Darwin Core
// occurrence records. The label field names already follow Darwin Core
// terms, so mapping is a straight projection plus light cleanup of the
// date and collector values.
package dwc

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/entolabel/specimen-digitizer/constants"
	"github.com/entolabel/specimen-digitizer/internal/pipeline"
)

// BasisPreservedSpecimen is the basisOfRecord for pinned collection
// material, the only kind this engine ingests.
const BasisPreservedSpecimen = "PreservedSpecimen"

// Record is a flat Simple Darwin Core occurrence. Empty terms are
// omitted from the JSON form so exports stay diff-friendly.
type Record struct {
	OccurrenceID             string `json:"occurrenceID,omitempty"`
	BasisOfRecord            string `json:"basisOfRecord"`
	InstitutionCode          string `json:"institutionCode,omitempty"`
	CatalogNumber            string `json:"catalogNumber,omitempty"`
	RecordNumber             string `json:"recordNumber,omitempty"`
	RecordedBy               string `json:"recordedBy,omitempty"`
	EventDate                string `json:"eventDate,omitempty"`
	VerbatimEventDate        string `json:"verbatimEventDate,omitempty"`
	Country                  string `json:"country,omitempty"`
	Locality                 string `json:"locality,omitempty"`
	ScientificName           string `json:"scientificName,omitempty"`
	ScientificNameAuthorship string `json:"scientificNameAuthorship,omitempty"`
}

// MapLabel projects a consolidated label onto a Darwin Core record.
// Only fields that carry a value contribute; status and confidence do
// not travel into the record. The verbatim date is kept alongside the
// normalized one so nothing read off the label is lost.
func MapLabel(label *pipeline.ConsolidatedLabel) Record {
	rec := Record{
		OccurrenceID:  label.CatalogID,
		BasisOfRecord: BasisPreservedSpecimen,
	}
	for name, field := range label.Fields {
		value := strings.TrimSpace(field.Value)
		if value == "" {
			continue
		}
		switch constants.Field(name) {
		case constants.FieldCountry:
			rec.Country = value
		case constants.FieldLocality:
			rec.Locality = value
		case constants.FieldScientificName:
			rec.ScientificName = value
		case constants.FieldNameAuthorship:
			rec.ScientificNameAuthorship = value
		case constants.FieldInstitutionCode:
			rec.InstitutionCode = value
		case constants.FieldCatalogNumber:
			rec.CatalogNumber = value
		case constants.FieldRecordNumber:
			rec.RecordNumber = value
		case constants.FieldRecordedBy:
			rec.RecordedBy = CleanRecordedBy(value)
		case constants.FieldEventDate:
			rec.VerbatimEventDate = value
			if iso, ok := NormalizeEventDate(value); ok {
				rec.EventDate = iso
			}
		}
	}
	return rec
}

var (
	isoDateRe   = regexp.MustCompile(`^\d{4}(-\d{2}){0,2}$`)
	dottedRe    = regexp.MustCompile(`^(\d{1,2})\.(\d{1,2})\.(\d{4})$`)
	romanFullRe = regexp.MustCompile(`^(\d{1,2})\.\s*([IVXivx]+)\.?\s*(\d{4})$`)
	romanYearRe = regexp.MustCompile(`^([IVXivx]+)\.?\s*(\d{4})$`)
	monthYearRe = regexp.MustCompile(`^(\d{1,2})\.(\d{4})$`)
)

// NormalizeEventDate converts label dates to ISO 8601. Collection
// labels mix plain years, Finnish dotted dates (21.6.1987) and the
// entomological roman-month convention (4.VII.1952, VII.1952). Dates
// already in ISO form pass through after validation. Anything else
// reports ok=false and stays verbatim only.
func NormalizeEventDate(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	switch {
	case s == "":
		return "", false
	case isoDateRe.MatchString(s):
		return validateISO(s)
	}
	if m := dottedRe.FindStringSubmatch(s); m != nil {
		return isoFromParts(m[3], m[2], m[1])
	}
	if m := romanFullRe.FindStringSubmatch(s); m != nil {
		month, ok := romanMonth(m[2])
		if !ok {
			return "", false
		}
		return isoFromParts(m[3], strconv.Itoa(month), m[1])
	}
	if m := romanYearRe.FindStringSubmatch(s); m != nil {
		month, ok := romanMonth(m[1])
		if !ok {
			return "", false
		}
		return isoFromParts(m[2], strconv.Itoa(month), "")
	}
	if m := monthYearRe.FindStringSubmatch(s); m != nil {
		return isoFromParts(m[2], m[1], "")
	}
	return "", false
}

func validateISO(s string) (string, bool) {
	switch len(s) {
	case 4:
		return s, true
	case 7:
		if _, err := time.Parse("2006-01", s); err != nil {
			return "", false
		}
		return s, true
	default:
		if _, err := time.Parse("2006-01-02", s); err != nil {
			return "", false
		}
		return s, true
	}
}

// isoFromParts assembles yyyy, yyyy-mm or yyyy-mm-dd from decimal
// strings, validating real calendar dates. Day may be empty.
func isoFromParts(year, month, day string) (string, bool) {
	m, err := strconv.Atoi(month)
	if err != nil || m < 1 || m > 12 {
		return "", false
	}
	if day == "" {
		return fmt.Sprintf("%s-%02d", year, m), true
	}
	d, err := strconv.Atoi(day)
	if err != nil {
		return "", false
	}
	iso := fmt.Sprintf("%s-%02d-%02d", year, m, d)
	if _, err := time.Parse("2006-01-02", iso); err != nil {
		return "", false
	}
	return iso, true
}

var romanMonths = map[string]int{
	"i": 1, "ii": 2, "iii": 3, "iv": 4, "v": 5, "vi": 6,
	"vii": 7, "viii": 8, "ix": 9, "x": 10, "xi": 11, "xii": 12,
}

func romanMonth(s string) (int, bool) {
	m, ok := romanMonths[strings.ToLower(s)]
	return m, ok
}

// The separator is mandatory so names like Legrand or Collins survive.
var collectorPrefixRe = regexp.MustCompile(`(?i)^(leg|coll)([.:]\s*|\s+)`)

// CleanRecordedBy strips the "leg." and "coll." markers collectors
// write before their names. The marker only says the rest is a
// collector name, which recordedBy already states.
func CleanRecordedBy(value string) string {
	parts := strings.Split(value, ";")
	for i, part := range parts {
		parts[i] = collectorPrefixRe.ReplaceAllString(strings.TrimSpace(part), "")
	}
	return strings.Join(parts, "; ")
}
