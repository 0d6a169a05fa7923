package patient

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/carelink/carelink/internal/domain/rules"
)

type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id string) (*Patient, error)
	SetConditions(ctx context.Context, id string, conditions rules.ConditionSet) error
	SetConsent(ctx context.Context, id string, consent bool) error
	SetCarePlan(ctx context.Context, id string, plan *string) error
	SetLastMedReview(ctx context.Context, id string, at time.Time) error
	// ListConsenting pages through patients with consent, ordered by id.
	ListConsenting(ctx context.Context, limit, offset int) ([]*ConsentingPatient, int, error)
}

type ReadingRepository interface {
	Create(ctx context.Context, r *Reading) error
	// ListLatest returns up to limit readings, newest first. limit <= 0
	// returns all of them.
	ListLatest(ctx context.Context, patientID string, limit int) ([]*Reading, error)
}

type MedicationRepository interface {
	Create(ctx context.Context, m *Medication) error
	ListByPatient(ctx context.Context, patientID string) ([]*Medication, error)
	Delete(ctx context.Context, patientID string, id uuid.UUID) error
}

type SymptomRepository interface {
	Create(ctx context.Context, s *SymptomNote) error
	ListLatest(ctx context.Context, patientID string, limit int) ([]*SymptomNote, error)
	Delete(ctx context.Context, patientID string, id uuid.UUID) error
}

// AccessLogRepository is append-only.
type AccessLogRepository interface {
	Append(ctx context.Context, e *AccessLogEntry) error
	ListLatest(ctx context.Context, patientID string, limit int) ([]*AccessLogEntry, error)
}

// Repositories bundles the stores used by the patient and pharmacy services.
type Repositories struct {
	Patients    PatientRepository
	Readings    ReadingRepository
	Medications MedicationRepository
	Symptoms    SymptomRepository
	AccessLog   AccessLogRepository
}
