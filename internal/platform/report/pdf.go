package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/jung-kurt/gofpdf"
)

// WriteReviewPDF renders r as an A4 PDF.
func WriteReviewPDF(w io.Writer, r Review) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle(tr("MTM review "+r.PatientID), false)
	pdf.SetAuthor("CareLink", false)
	pdf.SetAutoPageBreak(true, 20)

	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont("Arial", "I", 8)
		pdf.CellFormat(0, 10, tr(fmt.Sprintf("%s (%s)", r.PatientName, r.PatientID)), "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 10, fmt.Sprintf("Page %d", pdf.PageNo()), "", 0, "R", false, 0, "")
	})

	pdf.AddPage()
	pdf.SetFont("Arial", "B", 18)
	pdf.CellFormat(0, 10, "Medication Therapy Review", "", 1, "L", false, 0, "")

	pdf.SetFont("Arial", "", 11)
	line := func(label, value string) {
		pdf.SetFont("Arial", "B", 11)
		pdf.CellFormat(45, 7, label, "", 0, "L", false, 0, "")
		pdf.SetFont("Arial", "", 11)
		pdf.MultiCell(0, 7, tr(value), "", "L", false)
	}

	line("Patient", fmt.Sprintf("%s (%s)", r.PatientName, r.PatientID))
	line("Conditions", orDash(strings.Join(r.Conditions, ", ")))
	line("Generated", r.GeneratedAt.Format(timeLayout)+" by "+orDash(r.GeneratedBy))
	if r.LastReview != nil {
		line("Last review", r.LastReview.Format(timeLayout))
	} else {
		line("Last review", "never")
	}
	if r.ReviewDue {
		line("Review due", "yes")
	} else {
		line("Review due", "no")
	}

	section(pdf, "Assessment")
	if r.BPStatus == "" {
		line("BP status", "no data")
	} else {
		line("BP status", fmt.Sprintf("%s (%s)", r.BPStatus, r.BPSeverity))
	}
	if r.AvgSystolic != nil {
		line("Avg systolic", strconv.FormatFloat(*r.AvgSystolic, 'f', 1, 64))
	}
	line("MTM risk", fmt.Sprintf("%s (score %d)", r.MTMLevel, r.MTMScore))
	line("Factors", orDash(strings.Join(r.MTMFactors, ", ")))

	section(pdf, "Medications")
	table(pdf, tr, []float64{80, 50, 60}, []string{"Name", "Dose", "Frequency"}, len(r.Medications), func(i int) []string {
		m := r.Medications[i]
		return []string{m.Name, m.Dose, m.Frequency}
	})

	section(pdf, "Blood pressure readings")
	table(pdf, tr, []float64{60, 40, 40, 40}, []string{"Time", "Systolic", "Diastolic", "Heart rate"}, len(r.Readings), func(i int) []string {
		rd := r.Readings[i]
		hr := "-"
		if rd.HeartRate != nil {
			hr = strconv.Itoa(*rd.HeartRate)
		}
		return []string{rd.Timestamp.Format(timeLayout), strconv.Itoa(rd.Systolic), strconv.Itoa(rd.Diastolic), hr}
	})

	section(pdf, "Recent symptoms")
	table(pdf, tr, []float64{50, 140}, []string{"Time", "Note"}, len(r.Symptoms), func(i int) []string {
		s := r.Symptoms[i]
		return []string{s.Timestamp.Format(timeLayout), s.Note}
	})

	section(pdf, "Care plan")
	pdf.SetFont("Arial", "", 11)
	pdf.MultiCell(0, 6, tr(orDash(r.CarePlan)), "", "L", false)

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("render review pdf: %w", err)
	}
	return nil
}

func section(pdf *gofpdf.Fpdf, title string) {
	pdf.Ln(4)
	pdf.SetFont("Arial", "B", 13)
	pdf.CellFormat(0, 8, title, "B", 1, "L", false, 0, "")
	pdf.Ln(1)
}

func table(pdf *gofpdf.Fpdf, tr func(string) string, widths []float64, header []string, n int, row func(int) []string) {
	if n == 0 {
		pdf.SetFont("Arial", "I", 10)
		pdf.CellFormat(0, 6, "none recorded", "", 1, "L", false, 0, "")
		return
	}
	pdf.SetFont("Arial", "B", 10)
	pdf.SetFillColor(230, 230, 230)
	for i, h := range header {
		pdf.CellFormat(widths[i], 7, h, "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 10)
	for i := 0; i < n; i++ {
		for j, cell := range row(i) {
			pdf.CellFormat(widths[j], 6, tr(truncate(cell, 60)), "1", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
	}
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
