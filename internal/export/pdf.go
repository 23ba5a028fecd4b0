package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/go-pdf/fpdf"

	"gardian_admin/internal/models"
)

var pdfWidths = []float64{38, 28, 34, 30, 70, 26, 28, 23}

const (
	pdfRowHeight = 7
	pdfMargin    = 12
)

// PDF renders the summary and detail tables for the reports captured within r.
func PDF(views []models.ReportView, r Range, generated time.Time) (*Document, error) {
	rows, totals, err := prepare(views, r)
	if err != nil {
		return nil, err
	}

	pdf := fpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(pdfMargin, pdfMargin, pdfMargin)
	pdf.SetAutoPageBreak(false, pdfMargin)
	pdf.SetTitle("Infrastructure Reports", true)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 10, "Infrastructure Reports", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(0, 6, fmt.Sprintf("Period: %s to %s", r.Start.Format("January 2, 2006"), r.End.Format("January 2, 2006")), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, "Generated: "+generated.In(r.Loc).Format("January 2, 2006 3:04 PM"), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(0, 8, "Summary", "", 1, "L", false, 0, "")
	pdf.SetFillColor(33, 47, 80)
	pdf.SetTextColor(255, 255, 255)
	pdf.SetFont("Helvetica", "B", 10)
	pdf.CellFormat(60, pdfRowHeight, "Metric", "1", 0, "L", true, 0, "")
	pdf.CellFormat(30, pdfRowHeight, "Count", "1", 1, "R", true, 0, "")
	pdf.SetTextColor(0, 0, 0)
	pdf.SetFont("Helvetica", "", 10)
	for _, kv := range totals.table() {
		pdf.CellFormat(60, pdfRowHeight, kv[0], "1", 0, "L", false, 0, "")
		pdf.CellFormat(30, pdfRowHeight, kv[1], "1", 1, "R", false, 0, "")
	}
	pdf.Ln(6)

	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(0, 8, "Report Details", "", 1, "L", false, 0, "")
	detailHeaderRow(pdf)

	_, pageH := pdf.GetPageSize()
	pdf.SetFont("Helvetica", "", 8)
	for i, rw := range rows {
		if pdf.GetY()+pdfRowHeight > pageH-pdfMargin {
			pdf.AddPage()
			detailHeaderRow(pdf)
			pdf.SetFont("Helvetica", "", 8)
		}
		fill := i%2 == 1
		pdf.SetFillColor(240, 243, 248)
		for c, text := range rw.cells() {
			pdf.CellFormat(pdfWidths[c], pdfRowHeight, tr(fit(pdf, text, pdfWidths[c]-2)), "1", 0, "L", fill, 0, "")
		}
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return &Document{Filename: r.Filename("pdf"), ContentType: "application/pdf", Body: buf.Bytes()}, nil
}

func detailHeaderRow(pdf *fpdf.Fpdf) {
	pdf.SetFont("Helvetica", "B", 9)
	pdf.SetFillColor(33, 47, 80)
	pdf.SetTextColor(255, 255, 255)
	for c, h := range detailHeader {
		pdf.CellFormat(pdfWidths[c], pdfRowHeight, h, "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetTextColor(0, 0, 0)
}

// fit shortens text with an ellipsis until it fits width.
func fit(pdf *fpdf.Fpdf, text string, width float64) string {
	if pdf.GetStringWidth(text) <= width {
		return text
	}
	runes := []rune(text)
	for len(runes) > 0 && pdf.GetStringWidth(string(runes)+"...") > width {
		runes = runes[:len(runes)-1]
	}
	return string(runes) + "..."
}
