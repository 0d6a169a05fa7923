// Package patienttest provides in-memory patient repositories for tests.
package patienttest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/carelink/carelink/internal/domain/patient"
	"github.com/carelink/carelink/internal/domain/rules"
)

// Store backs every repository with maps guarded by one mutex.
type Store struct {
	mu          sync.Mutex
	patients    map[string]*patient.Patient
	readings    []*patient.Reading
	medications []*patient.Medication
	symptoms    []*patient.SymptomNote
	accesses    []*patient.AccessLogEntry

	// Err, when set, is returned by every write.
	Err error
}

func NewStore() *Store {
	return &Store{patients: make(map[string]*patient.Patient)}
}

// Repositories returns repositories backed by s.
func (s *Store) Repositories() patient.Repositories {
	return patient.Repositories{
		Patients:    patientRepo{s},
		Readings:    readingRepo{s},
		Medications: medicationRepo{s},
		Symptoms:    symptomRepo{s},
		AccessLog:   accessLogRepo{s},
	}
}

// AddPatient stores p and returns it.
func (s *Store) AddPatient(p *patient.Patient) *patient.Patient {
	if p.Conditions == nil {
		p.Conditions = rules.ConditionSet{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patients[p.ID] = p
	return p
}

// Accesses returns every access entry for patientID in append order.
func (s *Store) Accesses(patientID string) []*patient.AccessLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*patient.AccessLogEntry
	for _, e := range s.accesses {
		if e.PatientID == patientID {
			out = append(out, e)
		}
	}
	return out
}

// Tx is a TxRunner that calls fn directly.
type Tx struct{ Calls int }

func (t *Tx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	t.Calls++
	return fn(ctx)
}

func latest[T any](items []T, at func(T) time.Time, limit int) []T {
	out := append([]T(nil), items...)
	sort.SliceStable(out, func(i, j int) bool { return at(out[i]).After(at(out[j])) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

type patientRepo struct{ s *Store }

func (r patientRepo) Create(_ context.Context, p *patient.Patient) error {
	if r.s.Err != nil {
		return r.s.Err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.patients[p.ID]; ok {
		return patient.ErrValidation
	}
	if p.Conditions == nil {
		p.Conditions = rules.ConditionSet{}
	}
	p.CreatedAt = time.Now().UTC()
	r.s.patients[p.ID] = p
	return nil
}

func (r patientRepo) GetByID(_ context.Context, id string) (*patient.Patient, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.patients[id]
	if !ok {
		return nil, notFound("patient")
	}
	cp := *p
	return &cp, nil
}

func (r patientRepo) update(id string, fn func(p *patient.Patient)) error {
	if r.s.Err != nil {
		return r.s.Err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.patients[id]
	if !ok {
		return notFound("patient")
	}
	fn(p)
	return nil
}

func (r patientRepo) SetConditions(_ context.Context, id string, set rules.ConditionSet) error {
	return r.update(id, func(p *patient.Patient) { p.Conditions = set })
}

func (r patientRepo) SetConsent(_ context.Context, id string, consent bool) error {
	return r.update(id, func(p *patient.Patient) { p.Consent = consent })
}

func (r patientRepo) SetCarePlan(_ context.Context, id string, plan *string) error {
	return r.update(id, func(p *patient.Patient) { p.CarePlan = plan })
}

func (r patientRepo) SetLastMedReview(_ context.Context, id string, at time.Time) error {
	return r.update(id, func(p *patient.Patient) { p.LastMedReview = &at })
}

func (r patientRepo) ListConsenting(_ context.Context, limit, offset int) ([]*patient.ConsentingPatient, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var all []*patient.ConsentingPatient
	for _, p := range r.s.patients {
		if !p.Consent {
			continue
		}
		count := 0
		for _, m := range r.s.medications {
			if m.PatientID == p.ID {
				count++
			}
		}
		all = append(all, &patient.ConsentingPatient{
			ID: p.ID, Name: p.Name, MedicationCount: count, LastMedReview: p.LastMedReview,
		})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	total := len(all)
	if offset > total {
		offset = total
	}
	end := total
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end], total, nil
}

type readingRepo struct{ s *Store }

func (r readingRepo) Create(_ context.Context, rd *patient.Reading) error {
	if r.s.Err != nil {
		return r.s.Err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rd.ID = uuid.New()
	r.s.readings = append(r.s.readings, rd)
	return nil
}

func (r readingRepo) ListLatest(_ context.Context, patientID string, limit int) ([]*patient.Reading, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var mine []*patient.Reading
	for _, rd := range r.s.readings {
		if rd.PatientID == patientID {
			mine = append(mine, rd)
		}
	}
	return latest(mine, func(rd *patient.Reading) time.Time { return rd.RecordedAt }, limit), nil
}

type medicationRepo struct{ s *Store }

func (r medicationRepo) Create(_ context.Context, m *patient.Medication) error {
	if r.s.Err != nil {
		return r.s.Err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m.ID = uuid.New()
	m.CreatedAt = time.Now().UTC()
	r.s.medications = append(r.s.medications, m)
	return nil
}

func (r medicationRepo) ListByPatient(_ context.Context, patientID string) ([]*patient.Medication, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*patient.Medication
	for _, m := range r.s.medications {
		if m.PatientID == patientID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r medicationRepo) Delete(_ context.Context, patientID string, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i, m := range r.s.medications {
		if m.ID == id && m.PatientID == patientID {
			r.s.medications = append(r.s.medications[:i], r.s.medications[i+1:]...)
			return nil
		}
	}
	return notFound("medication")
}

type symptomRepo struct{ s *Store }

func (r symptomRepo) Create(_ context.Context, sn *patient.SymptomNote) error {
	if r.s.Err != nil {
		return r.s.Err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sn.ID = uuid.New()
	r.s.symptoms = append(r.s.symptoms, sn)
	return nil
}

func (r symptomRepo) ListLatest(_ context.Context, patientID string, limit int) ([]*patient.SymptomNote, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var mine []*patient.SymptomNote
	for _, sn := range r.s.symptoms {
		if sn.PatientID == patientID {
			mine = append(mine, sn)
		}
	}
	return latest(mine, func(sn *patient.SymptomNote) time.Time { return sn.RecordedAt }, limit), nil
}

func (r symptomRepo) Delete(_ context.Context, patientID string, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i, sn := range r.s.symptoms {
		if sn.ID == id && sn.PatientID == patientID {
			r.s.symptoms = append(r.s.symptoms[:i], r.s.symptoms[i+1:]...)
			return nil
		}
	}
	return notFound("symptom")
}

type accessLogRepo struct{ s *Store }

func (r accessLogRepo) Append(_ context.Context, e *patient.AccessLogEntry) error {
	if r.s.Err != nil {
		return r.s.Err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e.ID = uuid.New()
	r.s.accesses = append(r.s.accesses, e)
	return nil
}

func (r accessLogRepo) ListLatest(_ context.Context, patientID string, limit int) ([]*patient.AccessLogEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var mine []*patient.AccessLogEntry
	for _, e := range r.s.accesses {
		if e.PatientID == patientID {
			mine = append(mine, e)
		}
	}
	return latest(mine, func(e *patient.AccessLogEntry) time.Time { return e.AccessedAt }, limit), nil
}

func notFound(what string) error {
	return fmt.Errorf("%s %w", what, patient.ErrNotFound)
}
