package report

import (
	"fmt"
	"io"

	"github.com/tealeg/xlsx"
)

// WriteReadingsXLSX writes the readings as a single "BP log" sheet with a
// header row. Rows keep the order they are given in.
func WriteReadingsXLSX(w io.Writer, patientID string, readings []Reading) error {
	file := xlsx.NewFile()
	sheet, err := file.AddSheet("BP log")
	if err != nil {
		return fmt.Errorf("add sheet: %w", err)
	}

	header := sheet.AddRow()
	for _, h := range []string{"Patient", "Time", "Systolic", "Diastolic", "Heart rate"} {
		header.AddCell().SetString(h)
	}

	for _, rd := range readings {
		row := sheet.AddRow()
		row.AddCell().SetString(patientID)
		row.AddCell().SetString(rd.Timestamp.UTC().Format(timeLayout))
		row.AddCell().SetInt(rd.Systolic)
		row.AddCell().SetInt(rd.Diastolic)
		hr := row.AddCell()
		if rd.HeartRate != nil {
			hr.SetInt(*rd.HeartRate)
		}
	}

	if err := file.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
