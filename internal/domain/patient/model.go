package patient

import (
	"time"

	"github.com/google/uuid"

	"github.com/carelink/carelink/internal/domain/rules"
)

// Patient is the record owner. Conditions is never nil once loaded.
type Patient struct {
	ID            string             `json:"id"`
	Name          string             `json:"name"`
	Consent       bool               `json:"consent"`
	Conditions    rules.ConditionSet `json:"conditions"`
	CarePlan      *string            `json:"care_plan"`
	LastMedReview *time.Time         `json:"last_med_review"`
	CreatedAt     time.Time          `json:"created_at"`
}

// Subject is the view of p the access rules work on.
func (p *Patient) Subject() rules.Subject {
	return rules.Subject{PatientID: p.ID, Consent: p.Consent}
}

type Reading struct {
	ID         uuid.UUID `json:"id"`
	PatientID  string    `json:"patient_id"`
	Systolic   int       `json:"systolic"`
	Diastolic  int       `json:"diastolic"`
	HeartRate  *int      `json:"heart_rate"`
	RecordedAt time.Time `json:"timestamp"`
}

// Sample converts the reading for the rule engine.
func (r *Reading) Sample() rules.BPSample {
	return rules.BPSample{Systolic: r.Systolic, Diastolic: r.Diastolic, Timestamp: r.RecordedAt}
}

// Samples converts readings for the rule engine.
func Samples(readings []*Reading) []rules.BPSample {
	out := make([]rules.BPSample, 0, len(readings))
	for _, r := range readings {
		out = append(out, r.Sample())
	}
	return out
}

type Medication struct {
	ID        uuid.UUID `json:"id"`
	PatientID string    `json:"patient_id"`
	Name      string    `json:"name"`
	Dose      string    `json:"dose"`
	Frequency string    `json:"frequency"`
	CreatedAt time.Time `json:"created_at"`
}

type SymptomNote struct {
	ID         uuid.UUID `json:"id"`
	PatientID  string    `json:"patient_id"`
	Note       string    `json:"note"`
	RecordedAt time.Time `json:"timestamp"`
}

// AccessLogEntry records one authorized view of a patient record. Entries
// are never updated or deleted.
type AccessLogEntry struct {
	ID         uuid.UUID `json:"id"`
	PatientID  string    `json:"patient_id"`
	ActorID    string    `json:"actor_id"`
	ActorRole  string    `json:"actor_role"`
	AccessedAt time.Time `json:"timestamp"`
}

// ConsentingPatient is one dashboard row.
type ConsentingPatient struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	MedicationCount int        `json:"med_count"`
	LastMedReview   *time.Time `json:"last_med_review"`
	ReviewDue       bool       `json:"review_due"`
}
