// Package export renders consolidated specimen labels as XLSX workbooks
// for collection managers.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/entolabel/specimen-digitizer/constants"
	"github.com/entolabel/specimen-digitizer/internal/pipeline"
	"github.com/entolabel/specimen-digitizer/internal/repository"
)

const sheetName = "Labels"

// Service is a small façade over the repositories that produces XLSX
// bytes for exports.
type Service struct {
	specimens repository.SpecimenRepository
	runs      repository.DigitizeRunRepository
	logger    *slog.Logger
}

func NewService(specimens repository.SpecimenRepository, runs repository.DigitizeRunRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{specimens: specimens, runs: runs, logger: logger}
}

// ExportLabelsXLSX returns a workbook with one row per consolidated
// field, specimens in creation order and fields in name order. Empty
// status exports consolidated specimens. The returned count is the
// number of labels in the workbook.
func (s *Service) ExportLabelsXLSX(ctx context.Context, status string) ([]byte, int, error) {
	start := time.Now()
	if status == "" {
		status = string(constants.SpecimenStatusConsolidated)
	}

	specimens, err := s.specimens.ListByStatus(ctx, status, 0)
	if err != nil {
		return nil, 0, fmt.Errorf("query specimens: %w", err)
	}

	f := excelize.NewFile()
	if index, _ := f.GetSheetIndex(sheetName); index == -1 {
		if _, err := f.NewSheet(sheetName); err != nil {
			return nil, 0, err
		}
	}
	activeIndex, _ := f.GetSheetIndex(sheetName)
	f.SetActiveSheet(activeIndex)

	headers := []string{
		"Catalog ID",
		"Field",
		"Value",
		"Status",
		"Confidence",
		"Witnesses",
		"Rationale",
		"Complete",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheetName, cell, h)
	}

	row := 2
	labels := 0
	for _, sp := range specimens {
		run, err := s.runs.LatestForSpecimen(ctx, sp.ID)
		if err != nil || len(run.ConsolidatedJSON) == 0 {
			s.logger.Warn("export.no_label", "catalog_id", sp.CatalogID, "error", err)
			continue
		}
		var label pipeline.ConsolidatedLabel
		if err := json.Unmarshal(run.ConsolidatedJSON, &label); err != nil {
			s.logger.Warn("export.bad_label", "catalog_id", sp.CatalogID, "error", err)
			continue
		}
		labels++

		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheetName, cell, v)
		}
		for _, name := range label.FieldNames() {
			fld := label.Fields[name]
			write(1, sp.CatalogID)
			write(2, name)
			write(3, fld.Value)
			write(4, fld.Status)
			write(5, fmt.Sprintf("%.2f", fld.Confidence))
			write(6, len(fld.Sources))
			write(7, truncate(fld.Rationale, 140))
			write(8, label.Complete)
			row++
		}
	}

	_ = f.SetColWidth(sheetName, "A", "A", 24) // catalog id
	_ = f.SetColWidth(sheetName, "B", "B", 18) // field
	_ = f.SetColWidth(sheetName, "C", "C", 40) // value
	_ = f.SetColWidth(sheetName, "D", "E", 12) // status, confidence
	_ = f.SetColWidth(sheetName, "G", "G", 48) // rationale

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"status", status,
		"labels", labels,
		"rows", row-2,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), labels, nil
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}
