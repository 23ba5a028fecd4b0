package export

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"gardian_admin/internal/models"
)

const (
	summarySheet = "Summary"
	detailSheet  = "Reports"
)

// XLSX renders the same tables as PDF into a workbook with one sheet each.
func XLSX(views []models.ReportView, r Range, generated time.Time) (*Document, error) {
	rows, totals, err := prepare(views, r)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(detailSheet); err != nil {
		return nil, err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}
	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"212F50"}},
	})
	if err != nil {
		return nil, err
	}

	meta := [][]interface{}{
		{"Infrastructure Reports"},
		{"Period", r.Start.Format(dateLayout) + " to " + r.End.Format(dateLayout)},
		{"Generated", generated.In(r.Loc).Format("2006-01-02 15:04")},
		{},
		{"Metric", "Count"},
	}
	for _, kv := range totals.table() {
		meta = append(meta, []interface{}{kv[0], kv[1]})
	}
	for i, line := range meta {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(summarySheet, cell, &line); err != nil {
			return nil, fmt.Errorf("write summary: %w", err)
		}
	}
	if err := f.SetCellStyle(summarySheet, "A1", "A1", bold); err != nil {
		return nil, err
	}
	if err := f.SetCellStyle(summarySheet, "A5", "B5", header); err != nil {
		return nil, err
	}
	if err := f.SetColWidth(summarySheet, "A", "B", 22); err != nil {
		return nil, err
	}

	headerRow := make([]interface{}, len(detailHeader))
	for i, h := range detailHeader {
		headerRow[i] = h
	}
	if err := f.SetSheetRow(detailSheet, "A1", &headerRow); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	lastCol, _ := excelize.ColumnNumberToName(len(detailHeader))
	if err := f.SetCellStyle(detailSheet, "A1", lastCol+"1", header); err != nil {
		return nil, err
	}
	for i, rw := range rows {
		cells := rw.cells()
		line := make([]interface{}, len(cells))
		for c, v := range cells {
			line[c] = v
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(detailSheet, cell, &line); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i+2, err)
		}
	}
	if err := f.SetColWidth(detailSheet, "A", lastCol, 20); err != nil {
		return nil, err
	}
	if err := f.SetColWidth(detailSheet, "E", "E", 40); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("render xlsx: %w", err)
	}
	return &Document{
		Filename:    r.Filename("xlsx"),
		ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		Body:        buf.Bytes(),
	}, nil
}
