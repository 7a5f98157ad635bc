package exporter

import (
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/Lllllllleong/requirementflow/internal/pipeline"
)

const (
	requirementsSheet = "Requirements"
	findingsSheet     = "Findings"
)

var (
	requirementsHeader = []any{"Item ID", "Section", "Level", "Parent", "Text", "Tags", "Page", "Line", "Status"}
	findingsHeader     = []any{"Item ID", "Severity", "Rule", "Message"}
)

// XLSXExporter writes a workbook with one row per requirement and one row
// per finding.
type XLSXExporter struct{}

func (XLSXExporter) Export(ctx context.Context, in pipeline.ExportInput) (*pipeline.Rendition, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", requirementsSheet); err != nil {
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}
	if _, err := f.NewSheet(findingsSheet); err != nil {
		return nil, fmt.Errorf("failed to add sheet: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	byItem := findingsByItem(in.Findings)
	rows := make([][]any, 0, len(in.Items))
	for _, it := range in.Items {
		rows = append(rows, []any{
			it.ItemID,
			it.TitleNumber,
			it.Level,
			it.ParentID,
			it.Text,
			strings.Join(it.Tags, ", "),
			it.SourceLocation.Page,
			it.SourceLocation.Line,
			statusOf(byItem[it.ItemID]),
		})
	}
	if err := writeSheet(f, requirementsSheet, requirementsHeader, rows, bold); err != nil {
		return nil, err
	}

	rows = rows[:0]
	for _, fd := range in.Findings {
		rows = append(rows, []any{fd.ItemID, string(fd.Severity), fd.RuleID, fd.Message})
	}
	if err := writeSheet(f, findingsSheet, findingsHeader, rows, bold); err != nil {
		return nil, err
	}
	if err := f.SetColWidth(requirementsSheet, "E", "E", 80); err != nil {
		return nil, fmt.Errorf("failed to size columns: %w", err)
	}
	if err := f.SetColWidth(findingsSheet, "D", "D", 80); err != nil {
		return nil, fmt.Errorf("failed to size columns: %w", err)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return &pipeline.Rendition{
		Format:      FormatXLSX,
		ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		Extension:   "xlsx",
		Data:        buf.Bytes(),
	}, nil
}

func writeSheet(f *excelize.File, sheet string, header []any, rows [][]any, headerStyle int) error {
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("failed to write %s header: %w", sheet, err)
	}
	if err := f.SetRowStyle(sheet, 1, 1, headerStyle); err != nil {
		return fmt.Errorf("failed to style %s header: %w", sheet, err)
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write %s row %d: %w", sheet, i+2, err)
		}
	}
	return f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
}

var _ pipeline.Exporter = XLSXExporter{}
