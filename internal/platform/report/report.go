// Package report renders the pharmacist review as a PDF and a patient's BP
// log as an XLSX workbook.
package report

import "time"

// Review is everything printed on the MTM review PDF.
type Review struct {
	PatientID   string
	PatientName string
	Conditions  []string
	GeneratedAt time.Time
	GeneratedBy string

	BPStatus    string // empty when there are no readings
	BPSeverity  string
	AvgSystolic *float64

	MTMScore   int
	MTMLevel   string
	MTMFactors []string

	ReviewDue  bool
	LastReview *time.Time
	CarePlan   string

	Medications []Medication
	Readings    []Reading
	Symptoms    []Symptom
}

type Medication struct {
	Name      string
	Dose      string
	Frequency string
}

type Reading struct {
	Timestamp time.Time
	Systolic  int
	Diastolic int
	HeartRate *int
}

type Symptom struct {
	Timestamp time.Time
	Note      string
}

const timeLayout = "2006-01-02 15:04"
