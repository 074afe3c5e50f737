package eval

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/parquet-go/parquet-go"

	"github.com/entolabel/specimen-digitizer/constants"
	"github.com/entolabel/specimen-digitizer/internal/common"
)

// GroundTruthRecord is one expert-verified label keyed by catalog ID.
// Columns carry the Darwin Core terms the engine transcribes.
type GroundTruthRecord struct {
	CatalogID                string `json:"catalogId" parquet:"catalogId"`
	Country                  string `json:"country" parquet:"country"`
	Locality                 string `json:"locality" parquet:"locality"`
	ScientificName           string `json:"scientificName" parquet:"scientificName"`
	ScientificNameAuthorship string `json:"scientificNameAuthorship" parquet:"scientificNameAuthorship"`
	InstitutionCode          string `json:"institutionCode" parquet:"institutionCode"`
	EventDate                string `json:"eventDate" parquet:"eventDate"`
	CatalogNumber            string `json:"catalogNumber" parquet:"catalogNumber"`
	RecordNumber             string `json:"recordNumber" parquet:"recordNumber"`
	RecordedBy               string `json:"recordedBy" parquet:"recordedBy"`
}

// FieldValue returns the expected value for a canonical field name.
func (r *GroundTruthRecord) FieldValue(name string) (string, bool) {
	switch constants.Field(name) {
	case constants.FieldCountry:
		return r.Country, true
	case constants.FieldLocality:
		return r.Locality, true
	case constants.FieldScientificName:
		return r.ScientificName, true
	case constants.FieldNameAuthorship:
		return r.ScientificNameAuthorship, true
	case constants.FieldInstitutionCode:
		return r.InstitutionCode, true
	case constants.FieldEventDate:
		return r.EventDate, true
	case constants.FieldCatalogNumber:
		return r.CatalogNumber, true
	case constants.FieldRecordNumber:
		return r.RecordNumber, true
	case constants.FieldRecordedBy:
		return r.RecordedBy, true
	}
	return "", false
}

// TruthLoader reads a ground truth file. Parquet is the archive
// format; JSONL keeps small hand-built sets easy to edit.
type TruthLoader struct {
	path string
}

func NewTruthLoader(path string) *TruthLoader {
	return &TruthLoader{path: path}
}

// Load reads every record, picking the decoder from the extension.
func (l *TruthLoader) Load() ([]GroundTruthRecord, error) {
	switch ext := strings.ToLower(filepath.Ext(l.path)); ext {
	case ".parquet":
		return l.loadParquet()
	case ".jsonl", ".json":
		return l.loadJSONL()
	default:
		return nil, fmt.Errorf("unsupported ground truth format %q: %w", ext, common.ErrInvalidInput)
	}
}

func (l *TruthLoader) loadParquet() ([]GroundTruthRecord, error) {
	file, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("open ground truth: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat ground truth: %w", err)
	}
	pf, err := parquet.OpenFile(file, info.Size())
	if err != nil {
		return nil, fmt.Errorf("open parquet: %w", err)
	}

	reader := parquet.NewGenericReader[GroundTruthRecord](pf)
	defer reader.Close()

	var records []GroundTruthRecord
	rows := make([]GroundTruthRecord, 128)
	for {
		n, err := reader.Read(rows)
		if n > 0 {
			records = append(records, rows[:n]...)
		}
		if err != nil {
			break
		}
	}
	return records, nil
}

// loadJSONL accepts one JSON object per line; blank lines are skipped.
func (l *TruthLoader) loadJSONL() ([]GroundTruthRecord, error) {
	file, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("open ground truth: %w", err)
	}
	defer file.Close()

	var records []GroundTruthRecord
	scanner := bufio.NewScanner(file)
	const maxLine = 10 * 1024 * 1024
	scanner.Buffer(make([]byte, maxLine), maxLine)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var record GroundTruthRecord
		if err := json.Unmarshal(line, &record); err != nil {
			return nil, fmt.Errorf("parse ground truth line %d: %w", lineNum, err)
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read ground truth: %w", err)
	}
	return records, nil
}

// IndexByCatalogID keys records by catalog ID. Later rows win when a
// file repeats an ID.
func IndexByCatalogID(records []GroundTruthRecord) map[string]GroundTruthRecord {
	byID := make(map[string]GroundTruthRecord, len(records))
	for _, rec := range records {
		if rec.CatalogID == "" {
			continue
		}
		byID[rec.CatalogID] = rec
	}
	return byID
}
