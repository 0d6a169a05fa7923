package patient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carelink/carelink/internal/domain/rules"
	"github.com/carelink/carelink/internal/platform/db"
)

// NewRepositoriesPG wires every store to the same pool. Statements join
// the transaction bound to the context when there is one.
func NewRepositoriesPG(pool *pgxpool.Pool) Repositories {
	return Repositories{
		Patients:    &patientRepoPG{pool: pool},
		Readings:    &readingRepoPG{pool: pool},
		Medications: &medicationRepoPG{pool: pool},
		Symptoms:    &symptomRepoPG{pool: pool},
		AccessLog:   &accessLogRepoPG{pool: pool},
	}
}

func notFound(what string) error {
	return fmt.Errorf("%s %w", what, ErrNotFound)
}

// limitArg turns limit <= 0 into SQL NULL, which LIMIT treats as no limit.
func limitArg(limit int) *int {
	if limit <= 0 {
		return nil
	}
	return &limit
}

// =========== Patient Repository ===========

type patientRepoPG struct{ pool *pgxpool.Pool }

const patientCols = `id, name, consent, conditions, care_plan, last_med_review, created_at`

func (r *patientRepoPG) scan(row pgx.Row) (*Patient, error) {
	var p Patient
	var tags []string
	if err := row.Scan(&p.ID, &p.Name, &p.Consent, &tags, &p.CarePlan, &p.LastMedReview, &p.CreatedAt); err != nil {
		return nil, err
	}
	set, err := rules.ParseConditions(tags)
	if err != nil {
		return nil, fmt.Errorf("patient %s: %w", p.ID, err)
	}
	p.Conditions = set
	return &p, nil
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	if p.Conditions == nil {
		p.Conditions = rules.ConditionSet{}
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO patient (id, name, consent, conditions, care_plan, last_med_review)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
		RETURNING created_at`,
		p.ID, p.Name, p.Consent, p.Conditions.Strings(), p.CarePlan, p.LastMedReview,
	).Scan(&p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("patient %s already exists: %w", p.ID, ErrValidation)
	}
	return err
}

func (r *patientRepoPG) GetByID(ctx context.Context, id string) (*Patient, error) {
	p, err := r.scan(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+patientCols+` FROM patient WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("patient")
	}
	return p, err
}

func (r *patientRepoPG) update(ctx context.Context, id, sql string, args ...any) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, sql, append([]any{id}, args...)...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFound("patient")
	}
	return nil
}

func (r *patientRepoPG) SetConditions(ctx context.Context, id string, conditions rules.ConditionSet) error {
	return r.update(ctx, id, `UPDATE patient SET conditions = $2 WHERE id = $1`, conditions.Strings())
}

func (r *patientRepoPG) SetConsent(ctx context.Context, id string, consent bool) error {
	return r.update(ctx, id, `UPDATE patient SET consent = $2 WHERE id = $1`, consent)
}

func (r *patientRepoPG) SetCarePlan(ctx context.Context, id string, plan *string) error {
	return r.update(ctx, id, `UPDATE patient SET care_plan = $2 WHERE id = $1`, plan)
}

func (r *patientRepoPG) SetLastMedReview(ctx context.Context, id string, at time.Time) error {
	return r.update(ctx, id, `UPDATE patient SET last_med_review = $2 WHERE id = $1`, at)
}

func (r *patientRepoPG) ListConsenting(ctx context.Context, limit, offset int) ([]*ConsentingPatient, int, error) {
	conn := db.Conn(ctx, r.pool)

	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM patient WHERE consent`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := conn.Query(ctx, `
		SELECT p.id, p.name, p.last_med_review,
			(SELECT COUNT(*) FROM medication m WHERE m.patient_id = p.id)
		FROM patient p
		WHERE p.consent
		ORDER BY p.id
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*ConsentingPatient
	for rows.Next() {
		var cp ConsentingPatient
		if err := rows.Scan(&cp.ID, &cp.Name, &cp.LastMedReview, &cp.MedicationCount); err != nil {
			return nil, 0, err
		}
		items = append(items, &cp)
	}
	return items, total, rows.Err()
}

// =========== Reading Repository ===========

type readingRepoPG struct{ pool *pgxpool.Pool }

func (r *readingRepoPG) Create(ctx context.Context, rd *Reading) error {
	rd.ID = uuid.New()
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO bp_reading (id, patient_id, systolic, diastolic, heart_rate, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		rd.ID, rd.PatientID, rd.Systolic, rd.Diastolic, rd.HeartRate, rd.RecordedAt)
	return err
}

func (r *readingRepoPG) ListLatest(ctx context.Context, patientID string, limit int) ([]*Reading, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT id, patient_id, systolic, diastolic, heart_rate, recorded_at
		FROM bp_reading WHERE patient_id = $1
		ORDER BY recorded_at DESC
		LIMIT $2`, patientID, limitArg(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Reading
	for rows.Next() {
		var rd Reading
		if err := rows.Scan(&rd.ID, &rd.PatientID, &rd.Systolic, &rd.Diastolic, &rd.HeartRate, &rd.RecordedAt); err != nil {
			return nil, err
		}
		items = append(items, &rd)
	}
	return items, rows.Err()
}

// =========== Medication Repository ===========

type medicationRepoPG struct{ pool *pgxpool.Pool }

func (r *medicationRepoPG) Create(ctx context.Context, m *Medication) error {
	m.ID = uuid.New()
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO medication (id, patient_id, name, dose, frequency)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		m.ID, m.PatientID, m.Name, m.Dose, m.Frequency,
	).Scan(&m.CreatedAt)
}

func (r *medicationRepoPG) ListByPatient(ctx context.Context, patientID string) ([]*Medication, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT id, patient_id, name, dose, frequency, created_at
		FROM medication WHERE patient_id = $1
		ORDER BY created_at, name`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Medication
	for rows.Next() {
		var m Medication
		if err := rows.Scan(&m.ID, &m.PatientID, &m.Name, &m.Dose, &m.Frequency, &m.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &m)
	}
	return items, rows.Err()
}

func (r *medicationRepoPG) Delete(ctx context.Context, patientID string, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`DELETE FROM medication WHERE id = $1 AND patient_id = $2`, id, patientID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFound("medication")
	}
	return nil
}

// =========== Symptom Repository ===========

type symptomRepoPG struct{ pool *pgxpool.Pool }

func (r *symptomRepoPG) Create(ctx context.Context, s *SymptomNote) error {
	s.ID = uuid.New()
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO symptom_note (id, patient_id, note, recorded_at)
		VALUES ($1, $2, $3, $4)`,
		s.ID, s.PatientID, s.Note, s.RecordedAt)
	return err
}

func (r *symptomRepoPG) ListLatest(ctx context.Context, patientID string, limit int) ([]*SymptomNote, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT id, patient_id, note, recorded_at
		FROM symptom_note WHERE patient_id = $1
		ORDER BY recorded_at DESC
		LIMIT $2`, patientID, limitArg(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*SymptomNote
	for rows.Next() {
		var s SymptomNote
		if err := rows.Scan(&s.ID, &s.PatientID, &s.Note, &s.RecordedAt); err != nil {
			return nil, err
		}
		items = append(items, &s)
	}
	return items, rows.Err()
}

func (r *symptomRepoPG) Delete(ctx context.Context, patientID string, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`DELETE FROM symptom_note WHERE id = $1 AND patient_id = $2`, id, patientID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFound("symptom")
	}
	return nil
}

// =========== Access Log Repository ===========

type accessLogRepoPG struct{ pool *pgxpool.Pool }

func (r *accessLogRepoPG) Append(ctx context.Context, e *AccessLogEntry) error {
	e.ID = uuid.New()
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO access_log (id, patient_id, actor_id, actor_role, accessed_at)
		VALUES ($1, $2, $3, $4, $5)`,
		e.ID, e.PatientID, e.ActorID, e.ActorRole, e.AccessedAt)
	return err
}

func (r *accessLogRepoPG) ListLatest(ctx context.Context, patientID string, limit int) ([]*AccessLogEntry, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT id, patient_id, actor_id, actor_role, accessed_at
		FROM access_log WHERE patient_id = $1
		ORDER BY accessed_at DESC
		LIMIT $2`, patientID, limitArg(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*AccessLogEntry
	for rows.Next() {
		var e AccessLogEntry
		if err := rows.Scan(&e.ID, &e.PatientID, &e.ActorID, &e.ActorRole, &e.AccessedAt); err != nil {
			return nil, err
		}
		items = append(items, &e)
	}
	return items, rows.Err()
}
