package patient

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/carelink/carelink/internal/domain/rules"
	"github.com/carelink/carelink/internal/platform/db"
	"github.com/carelink/carelink/internal/platform/ocr"
	"github.com/carelink/carelink/internal/platform/report"
)

// How much of each history the record view shows.
const (
	RecordReadingLimit = 10
	RecordSymptomLimit = 3
	RecordAccessLimit  = 5
)

// Reading values outside this range are rejected.
const (
	minVital = 1
	maxVital = 400
)

// MaxScanImageBytes bounds an uploaded label photo.
const MaxScanImageBytes = 10 << 20

type Service struct {
	repos Repositories
	tx    db.TxRunner
	ocr   ocr.TextDetector
	now   func() time.Time
}

func NewService(repos Repositories, tx db.TxRunner, detector ocr.TextDetector) *Service {
	return &Service{repos: repos, tx: tx, ocr: detector, now: time.Now}
}

// SetClock replaces the service clock.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Record is the patient's own view of their data.
type Record struct {
	Patient     *Patient          `json:"patient"`
	Readings    []*Reading        `json:"readings"`
	Medications []*Medication     `json:"medications"`
	Symptoms    []*SymptomNote    `json:"symptoms"`
	Accesses    []*AccessLogEntry `json:"accesses"`
	BPStatus    *rules.BPStatus   `json:"bp_status"`
}

// ViewPatient authorizes viewer against the patient and appends the access
// entry. It must run inside a transaction so a failed read leaves no entry
// behind. Denied views append nothing.
func ViewPatient(ctx context.Context, repos Repositories, viewer rules.Viewer, id string, at time.Time) (*Patient, error) {
	p, err := repos.Patients.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := rules.Authorize(viewer, p.Subject()).Err(); err != nil {
		return nil, fmt.Errorf("view patient %s: %w", id, err)
	}
	if err := repos.AccessLog.Append(ctx, &AccessLogEntry{
		PatientID:  p.ID,
		ActorID:    viewer.ActorID,
		ActorRole:  viewer.Role,
		AccessedAt: at,
	}); err != nil {
		return nil, fmt.Errorf("append access log: %w", err)
	}
	return p, nil
}

func (s *Service) GetRecord(ctx context.Context, viewer rules.Viewer, id string) (*Record, error) {
	var rec *Record
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		p, err := ViewPatient(ctx, s.repos, viewer, id, s.now().UTC())
		if err != nil {
			return err
		}
		rec = &Record{Patient: p}

		if rec.Readings, err = s.repos.Readings.ListLatest(ctx, id, RecordReadingLimit); err != nil {
			return fmt.Errorf("list readings: %w", err)
		}
		if rec.Medications, err = s.repos.Medications.ListByPatient(ctx, id); err != nil {
			return fmt.Errorf("list medications: %w", err)
		}
		if rec.Symptoms, err = s.repos.Symptoms.ListLatest(ctx, id, RecordSymptomLimit); err != nil {
			return fmt.Errorf("list symptoms: %w", err)
		}
		if rec.Accesses, err = s.repos.AccessLog.ListLatest(ctx, id, RecordAccessLimit); err != nil {
			return fmt.Errorf("list accesses: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	rec.Readings = orEmpty(rec.Readings)
	rec.Medications = orEmpty(rec.Medications)
	rec.Symptoms = orEmpty(rec.Symptoms)
	rec.Accesses = orEmpty(rec.Accesses)
	rec.BPStatus = rules.ClassifyBP(Samples(rec.Readings))
	return rec, nil
}

// requirePatient returns NotFound for an unknown id.
func (s *Service) requirePatient(ctx context.Context, id string) (*Patient, error) {
	return s.repos.Patients.GetByID(ctx, id)
}

// -- Readings --

// ReadingInput is the BP entry form. Pointers tell a missing field from zero.
type ReadingInput struct {
	Systolic  *int `json:"systolic"`
	Diastolic *int `json:"diastolic"`
	HeartRate *int `json:"heart_rate"`
}

func (in ReadingInput) validate() error {
	if in.Systolic == nil || in.Diastolic == nil {
		return fmt.Errorf("%w: systolic and diastolic are required", ErrValidation)
	}
	fields := []struct {
		name string
		v    *int
	}{{"systolic", in.Systolic}, {"diastolic", in.Diastolic}, {"heart_rate", in.HeartRate}}
	for _, f := range fields {
		if f.v != nil && (*f.v < minVital || *f.v > maxVital) {
			return fmt.Errorf("%w: %s must be between %d and %d", ErrValidation, f.name, minVital, maxVital)
		}
	}
	return nil
}

func (s *Service) AddReading(ctx context.Context, patientID string, in ReadingInput) (*Reading, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	if _, err := s.requirePatient(ctx, patientID); err != nil {
		return nil, err
	}
	rd := &Reading{
		PatientID:  patientID,
		Systolic:   *in.Systolic,
		Diastolic:  *in.Diastolic,
		HeartRate:  in.HeartRate,
		RecordedAt: s.now().UTC(),
	}
	if err := s.repos.Readings.Create(ctx, rd); err != nil {
		return nil, fmt.Errorf("create reading: %w", err)
	}
	return rd, nil
}

// ExportReadings writes the full BP log, oldest first, as an XLSX workbook.
func (s *Service) ExportReadings(ctx context.Context, patientID string, w io.Writer) error {
	if _, err := s.requirePatient(ctx, patientID); err != nil {
		return err
	}
	readings, err := s.repos.Readings.ListLatest(ctx, patientID, 0)
	if err != nil {
		return fmt.Errorf("list readings: %w", err)
	}
	rows := make([]report.Reading, 0, len(readings))
	for i := len(readings) - 1; i >= 0; i-- {
		rd := readings[i]
		rows = append(rows, report.Reading{
			Timestamp: rd.RecordedAt,
			Systolic:  rd.Systolic,
			Diastolic: rd.Diastolic,
			HeartRate: rd.HeartRate,
		})
	}
	return report.WriteReadingsXLSX(w, patientID, rows)
}

// -- Medications --

type MedicationInput struct {
	Name      string `json:"name" form:"name"`
	Dose      string `json:"dose" form:"dose"`
	Frequency string `json:"frequency" form:"frequency"`
}

func (s *Service) AddMedication(ctx context.Context, patientID string, in MedicationInput) (*Medication, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if _, err := s.requirePatient(ctx, patientID); err != nil {
		return nil, err
	}
	m := &Medication{
		PatientID: patientID,
		Name:      name,
		Dose:      strings.TrimSpace(in.Dose),
		Frequency: strings.TrimSpace(in.Frequency),
	}
	if err := s.repos.Medications.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("create medication: %w", err)
	}
	return m, nil
}

func (s *Service) DeleteMedication(ctx context.Context, patientID string, id uuid.UUID) error {
	return s.repos.Medications.Delete(ctx, patientID, id)
}

// -- Symptoms --

func (s *Service) AddSymptom(ctx context.Context, patientID, note string) (*SymptomNote, error) {
	note = strings.TrimSpace(note)
	if note == "" {
		return nil, fmt.Errorf("%w: note is required", ErrValidation)
	}
	if _, err := s.requirePatient(ctx, patientID); err != nil {
		return nil, err
	}
	sn := &SymptomNote{PatientID: patientID, Note: note, RecordedAt: s.now().UTC()}
	if err := s.repos.Symptoms.Create(ctx, sn); err != nil {
		return nil, fmt.Errorf("create symptom: %w", err)
	}
	return sn, nil
}

func (s *Service) DeleteSymptom(ctx context.Context, patientID string, id uuid.UUID) error {
	return s.repos.Symptoms.Delete(ctx, patientID, id)
}

// -- Conditions and consent --

// SetConditions replaces the patient's condition tags. Unknown tags are
// rejected and duplicates collapse.
func (s *Service) SetConditions(ctx context.Context, patientID string, tags []string) (rules.ConditionSet, error) {
	set, err := rules.ParseConditions(tags)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := s.repos.Patients.SetConditions(ctx, patientID, set); err != nil {
		return nil, err
	}
	return set, nil
}

func (s *Service) SetConsent(ctx context.Context, patientID string, consent bool) error {
	return s.repos.Patients.SetConsent(ctx, patientID, consent)
}

// ParseConsent reads a consent value sent either as a JSON boolean or as an
// HTML checkbox ("on" when ticked, absent otherwise).
func ParseConsent(v any) (bool, error) {
	switch t := v.(type) {
	case nil:
		return false, nil
	case bool:
		return t, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "on", "true", "1", "yes":
			return true, nil
		case "", "off", "false", "0", "no":
			return false, nil
		}
	}
	return false, fmt.Errorf("%w: consent must be a boolean", ErrValidation)
}

// -- Scan medication --

// ScanMedication sends a label photo to the OCR service and returns the
// parsed suggestion. Nothing is stored.
func (s *Service) ScanMedication(ctx context.Context, patientID string, img ocr.Image) (*ocr.Label, error) {
	if len(img.Data) == 0 {
		return nil, fmt.Errorf("%w: image is required", ErrValidation)
	}
	if len(img.Data) > MaxScanImageBytes {
		return nil, fmt.Errorf("%w: image exceeds %d bytes", ErrValidation, MaxScanImageBytes)
	}
	if !strings.HasPrefix(img.ContentType, "image/") {
		return nil, fmt.Errorf("%w: file must be an image", ErrValidation)
	}
	if _, err := s.requirePatient(ctx, patientID); err != nil {
		return nil, err
	}
	if s.ocr == nil {
		return nil, ocr.ErrNotConfigured
	}
	text, err := s.ocr.DetectText(ctx, img)
	if err != nil {
		return nil, err
	}
	label := ocr.ParseLabel(text)
	return &label, nil
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
