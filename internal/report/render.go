package report

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var monthNames = [...]string{
	"enero", "febrero", "marzo", "abril", "mayo", "junio",
	"julio", "agosto", "septiembre", "octubre", "noviembre", "diciembre",
}

func monthName(m time.Month) string {
	if m < time.January || m > time.December {
		return ""
	}
	return monthNames[m-1]
}

// MonthLabel renders "Octubre 2026".
func MonthLabel(year int, month time.Month) string {
	// Casers keep state; one per call.
	return cases.Title(language.Spanish).String(fmt.Sprintf("%s %d", monthName(month), year))
}

// longDate renders "15 de octubre de 2026".
func longDate(t time.Time) string {
	return fmt.Sprintf("%02d de %s de %d", t.Day(), monthName(t.Month()), t.Year())
}

type rgb struct{ r, g, b int }

var (
	colorTitle    = rgb{0x33, 0x33, 0x33}
	colorSubtitle = rgb{0x66, 0x66, 0x66}
	colorAccent   = rgb{0x1a, 0x54, 0x90}
	colorHeaderFg = rgb{0xf5, 0xf5, 0xf5}
	colorStripe   = rgb{0xf0, 0xf0, 0xf0}
	colorGrid     = rgb{0xcc, 0xcc, 0xcc}
)

// Layout in millimetres on A4 with half-inch top and bottom margins.
const (
	marginTB   = 12.7
	marginLR   = 20.0
	colName    = 88.9
	colDoc     = 38.1
	colAbsence = 38.1
	headerRowH = 9.0
	rowH       = 7.0
)

// Render produces the monthly absence report as a PDF.
func Render(r Report) ([]byte, error) { return renderPDF(r, true) }

func renderPDF(r Report, compress bool) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCompression(compress)
	pdf.SetMargins(marginLR, marginTB, marginLR)
	pdf.SetAutoPageBreak(true, marginTB)
	pdf.SetCreationDate(r.GeneratedAt)
	pdf.SetModificationDate(r.GeneratedAt)
	// Core fonts are cp1252; accented Spanish text needs translating.
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	title := "Reporte de Inasistentes - " + MonthLabel(r.Month.Year, r.Month.Month)
	pdf.SetTitle(title, true)
	pdf.AddPage()

	setText(pdf, colorTitle)
	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 9, tr(title), "", 1, "C", false, 0, "")
	setText(pdf, colorSubtitle)
	pdf.SetFont("Helvetica", "", 11)
	pdf.CellFormat(0, 6, tr("Generado el "+longDate(r.GeneratedAt)), "", 1, "C", false, 0, "")
	pdf.CellFormat(0, 6, tr(fmt.Sprintf("Días de clase registrados: %d", r.ClassDays)), "", 1, "C", false, 0, "")
	pdf.Ln(6)

	_, pageH := pdf.GetPageSize()
	for _, g := range r.Grades {
		// Keep a heading together with its table header and first row.
		if pdf.GetY()+10+headerRowH+rowH > pageH-marginTB {
			pdf.AddPage()
		}
		pdf.Ln(2)
		setText(pdf, colorAccent)
		pdf.SetFont("Helvetica", "B", 13)
		pdf.CellFormat(0, 8, tr(fmt.Sprintf("Grado %d - %d Inasistentes", g.Number, len(g.Students))), "", 1, "L", false, 0, "")

		tableHeader(pdf, tr)
		for i, s := range g.Students {
			if pdf.GetY()+rowH > pageH-marginTB {
				pdf.AddPage()
				tableHeader(pdf, tr)
			}
			fill := colorStripe
			if i%2 == 0 {
				fill = rgb{0xff, 0xff, 0xff}
			}
			pdf.SetFillColor(fill.r, fill.g, fill.b)
			setText(pdf, colorTitle)
			pdf.SetFont("Helvetica", "", 9)
			pdf.CellFormat(colName, rowH, fit(pdf, tr(s.Name), colName-2), "1", 0, "L", true, 0, "")
			pdf.CellFormat(colDoc, rowH, tr(s.Document), "1", 0, "C", true, 0, "")
			pdf.CellFormat(colAbsence, rowH, fmt.Sprintf("%d de %d", s.Absences, s.Expected), "1", 1, "C", true, 0, "")
		}
		pdf.Ln(4)
	}

	var b bytes.Buffer
	if err := pdf.Output(&b); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return b.Bytes(), nil
}

func tableHeader(pdf *fpdf.Fpdf, tr func(string) string) {
	pdf.SetFillColor(colorAccent.r, colorAccent.g, colorAccent.b)
	pdf.SetDrawColor(colorGrid.r, colorGrid.g, colorGrid.b)
	pdf.SetLineWidth(0.3)
	setText(pdf, colorHeaderFg)
	pdf.SetFont("Helvetica", "B", 11)
	pdf.CellFormat(colName, headerRowH, "Nombre Completo", "1", 0, "C", true, 0, "")
	pdf.CellFormat(colDoc, headerRowH, tr("Identificación"), "1", 0, "C", true, 0, "")
	pdf.CellFormat(colAbsence, headerRowH, "Ausencias", "1", 1, "C", true, 0, "")
}

func setText(pdf *fpdf.Fpdf, c rgb) { pdf.SetTextColor(c.r, c.g, c.b) }

// fit shortens s with a trailing "..." until it fits in width.
func fit(pdf *fpdf.Fpdf, s string, width float64) string {
	if pdf.GetStringWidth(s) <= width {
		return s
	}
	for len(s) > 0 && pdf.GetStringWidth(s+"...") > width {
		s = strings.TrimRight(s[:len(s)-1], " ")
	}
	return s + "..."
}
