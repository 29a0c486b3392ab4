package export

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
)

const (
	pageWidthLandscape = 277.0
	rowHeight          = 6.0
)

// PDFExporter renders datasets into a landscape A4 document.
type PDFExporter struct {
	footer string
}

// NewPDFExporter constructs a PDF exporter. footer is printed on every page next to the page number.
func NewPDFExporter(footer string) *PDFExporter {
	return &PDFExporter{footer: footer}
}

// Render creates a PDF with the title block, the summary fields and the table body.
func (e *PDFExporter) Render(data Dataset) ([]byte, error) {
	if err := data.check(); err != nil {
		return nil, err
	}
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(10, 12, 10)
	pdf.SetAutoPageBreak(true, 15)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFooterFunc(func() {
		pdf.SetY(-12)
		pdf.SetFont("Arial", "I", 8)
		pdf.CellFormat(0, 8, tr(fmt.Sprintf("%s  %d/{nb}", e.footer, pdf.PageNo())), "", 0, "R", false, 0, "")
	})
	pdf.AliasNbPages("")
	pdf.AddPage()

	if data.Title != "" {
		pdf.SetFont("Arial", "B", 14)
		pdf.CellFormat(0, 9, tr(data.Title), "", 1, "C", false, 0, "")
	}
	pdf.SetFont("Arial", "", 10)
	for _, line := range data.Subtitle {
		pdf.CellFormat(0, 6, tr(line), "", 1, "C", false, 0, "")
	}
	pdf.Ln(3)

	if len(data.Summary) > 0 {
		for _, field := range data.Summary {
			pdf.SetFont("Arial", "B", 10)
			pdf.CellFormat(70, rowHeight, tr(field.Label), "", 0, "", false, 0, "")
			pdf.SetFont("Arial", "", 10)
			pdf.CellFormat(0, rowHeight, tr(field.Value), "", 1, "", false, 0, "")
		}
		pdf.Ln(4)
	}

	widths := columnWidths(data)
	header := func() {
		pdf.SetFont("Arial", "B", 8)
		pdf.SetFillColor(230, 230, 230)
		for i, h := range data.Headers {
			pdf.CellFormat(widths[i], rowHeight+1, tr(h), "1", 0, "C", true, 0, "")
		}
		pdf.Ln(-1)
	}
	header()

	pdf.SetFont("Arial", "", 8)
	_, pageHeight := pdf.GetPageSize()
	_, _, _, bottom := pdf.GetMargins()
	for _, row := range data.Rows {
		if pdf.GetY()+rowHeight > pageHeight-bottom-5 {
			pdf.AddPage()
			header()
			pdf.SetFont("Arial", "", 8)
		}
		for i, cell := range row {
			pdf.CellFormat(widths[i], rowHeight, tr(truncate(pdf, cell, widths[i])), "1", 0, "", false, 0, "")
		}
		pdf.Ln(-1)
	}
	if len(data.Rows) == 0 {
		pdf.SetFont("Arial", "I", 9)
		pdf.CellFormat(0, rowHeight+2, "No records for this period.", "", 1, "C", false, 0, "")
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// columnWidths weights columns by their longest content, with a floor per column.
func columnWidths(data Dataset) []float64 {
	lengths := make([]float64, len(data.Headers))
	for i, h := range data.Headers {
		lengths[i] = float64(len(h))
	}
	for _, row := range data.Rows {
		for i, cell := range row {
			if l := float64(len(cell)); l > lengths[i] {
				lengths[i] = l
			}
		}
	}
	var total float64
	for i := range lengths {
		if lengths[i] < 4 {
			lengths[i] = 4
		}
		if lengths[i] > 40 {
			lengths[i] = 40
		}
		total += lengths[i]
	}
	widths := make([]float64, len(lengths))
	for i, l := range lengths {
		widths[i] = pageWidthLandscape * l / total
	}
	return widths
}

func truncate(pdf *gofpdf.Fpdf, text string, width float64) string {
	limit := width - 2
	if pdf.GetStringWidth(text) <= limit {
		return text
	}
	runes := []rune(text)
	for len(runes) > 0 && pdf.GetStringWidth(string(runes)+"...") > limit {
		runes = runes[:len(runes)-1]
	}
	return string(runes) + "..."
}
