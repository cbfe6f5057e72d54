// Package pdf assembles the final report document: a title page followed
// by one page per chart, each chart paired with its summary table.
package pdf

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/seawatch/reportd/app/report/charts"
)

// layout constants, A4 portrait in millimeters
const (
	pageWidth   = 210.0
	marginLeft  = 20.0
	contentW    = pageWidth - 2*marginLeft
	chartWidth  = 165.0 // 6.5in
	chartHeight = 115.5 // 4.55in
	categoryW   = 110.0
	countW      = 60.0
	rowH        = 8.0
)

// accent colors matching the report branding
var (
	titleColor  = rgb{31, 71, 136}  // #1f4788
	headerColor = rgb{44, 90, 160}  // #2c5aa0
	stripeColor = rgb{211, 211, 211}
)

type rgb struct{ r, g, b int }

// Params describes the document to build.
type Params struct {
	Title        string // "Sightings Report" or "Reportings Report"
	Observations int
	GeneratedAt  time.Time
	Charts       []string
	Summaries    []charts.Summary
}

// Create writes the report PDF to path. Every chart file must exist; the
// summaries list is index-aligned with the charts and may be shorter.
func Create(path string, p Params) error {
	if len(p.Charts) == 0 {
		return fmt.Errorf("no chart files provided")
	}
	if p.Observations == 0 {
		return fmt.Errorf("no observations provided")
	}
	for _, chartFile := range p.Charts {
		if _, err := os.Stat(chartFile); err != nil {
			return fmt.Errorf("chart file not found: %s", chartFile)
		}
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create output directory %s: %w", dir, err)
		}
	}

	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetAutoPageBreak(true, 20)

	titlePage(doc, p)
	for i, chartFile := range p.Charts {
		doc.AddPage()
		chartPage(doc, chartFile, i, p.Summaries)
	}

	if err := doc.OutputFileAndClose(path); err != nil {
		return fmt.Errorf("failed to write PDF %s: %w", path, err)
	}
	return nil
}

func titlePage(doc *fpdf.Fpdf, p Params) {
	doc.AddPage()
	doc.SetY(85)

	doc.SetFont("Helvetica", "B", 32)
	doc.SetTextColor(titleColor.r, titleColor.g, titleColor.b)
	doc.CellFormat(0, 16, p.Title, "", 1, "C", false, 0, "")
	doc.Ln(20)

	doc.SetTextColor(0, 0, 0)
	doc.SetFont("Helvetica", "B", 14)
	doc.CellFormat(0, 8, "Report Generated", "", 1, "C", false, 0, "")
	doc.SetFont("Helvetica", "", 14)
	doc.CellFormat(0, 8, p.GeneratedAt.Format("January 2, 2006"), "", 1, "C", false, 0, "")
	doc.CellFormat(0, 8, p.GeneratedAt.Format("3:04 PM"), "", 1, "C", false, 0, "")
	doc.Ln(12)

	doc.SetFont("Helvetica", "B", 14)
	doc.CellFormat(0, 8, "Total Observations", "", 1, "C", false, 0, "")
	doc.SetFont("Helvetica", "", 14)
	doc.CellFormat(0, 8, fmt.Sprintf("%d records", p.Observations), "", 1, "C", false, 0, "")
}

func chartPage(doc *fpdf.Fpdf, chartFile string, idx int, summaries []charts.Summary) {
	x := (pageWidth - chartWidth) / 2
	doc.ImageOptions(chartFile, x, 20, chartWidth, chartHeight, false,
		fpdf.ImageOptions{ImageType: "PNG", ReadDpi: true}, 0, "")
	doc.SetY(20 + chartHeight + 10)

	if idx >= len(summaries) {
		return
	}
	summary := summaries[idx]

	doc.SetX(marginLeft)
	doc.SetFont("Helvetica", "B", 13)
	doc.SetTextColor(0, 0, 0)
	doc.CellFormat(contentW, 8, summary.Title, "", 1, "L", false, 0, "")
	doc.Ln(2)

	// header row
	doc.SetX(marginLeft)
	doc.SetFont("Helvetica", "B", 11)
	doc.SetFillColor(headerColor.r, headerColor.g, headerColor.b)
	doc.SetTextColor(245, 245, 245)
	doc.SetDrawColor(128, 128, 128)
	doc.CellFormat(categoryW, rowH+2, "Category", "1", 0, "L", true, 0, "")
	doc.CellFormat(countW, rowH+2, "Frequency", "1", 1, "L", true, 0, "")

	doc.SetFont("Helvetica", "", 10)
	doc.SetTextColor(0, 0, 0)
	for i, row := range summary.Rows {
		fill := i%2 == 1 // stripe every other row
		if fill {
			doc.SetFillColor(stripeColor.r, stripeColor.g, stripeColor.b)
		} else {
			doc.SetFillColor(255, 255, 255)
		}
		doc.SetX(marginLeft)
		doc.CellFormat(categoryW, rowH, formatCategory(row.Category), "1", 0, "L", true, 0, "")
		doc.CellFormat(countW, rowH, fmt.Sprintf("%d", row.Count), "1", 1, "L", true, 0, "")
	}
}

// formatCategory turns raw category keys into display form: underscores
// become spaces and each word is capitalized, e.g. "fishing_nets" ->
// "Fishing Nets". Month keys like "2025-01" pass through unchanged.
func formatCategory(category string) string {
	words := strings.Fields(strings.ReplaceAll(category, "_", " "))
	for i, w := range words {
		runes := []rune(w)
		words[i] = strings.ToUpper(string(runes[0])) + strings.ToLower(string(runes[1:]))
	}
	return strings.Join(words, " ")
}
