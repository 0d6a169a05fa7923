// Package pharmacy is the pharmacist side of CareLink: session handling,
// the dashboard of consenting patients and the consent-gated MTM review.
package pharmacy

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/carelink/carelink/internal/domain/patient"
	"github.com/carelink/carelink/internal/domain/rules"
	"github.com/carelink/carelink/internal/platform/auth"
	"github.com/carelink/carelink/internal/platform/db"
	"github.com/carelink/carelink/internal/platform/notify"
	"github.com/carelink/carelink/internal/platform/report"
)

// How much history the review view shows. Readings are not capped.
const (
	ReviewSymptomLimit = 3
	ReviewAccessLimit  = 5
)

const chartLabelLayout = "2006-01-02 15:04"

// digestPageSize is how many patients ReviewDigest loads per query.
const digestPageSize = 100

// Revoker invalidates a token id until it expires.
type Revoker interface {
	Revoke(jti string, expiresAt time.Time)
}

type Service struct {
	repos       patient.Repositories
	tx          db.TxRunner
	credential  auth.Credential
	issuer      *auth.TokenIssuer
	revocations Revoker
	now         func() time.Time
}

func NewService(repos patient.Repositories, tx db.TxRunner, cred auth.Credential, issuer *auth.TokenIssuer, revocations Revoker) *Service {
	return &Service{
		repos:       repos,
		tx:          tx,
		credential:  cred,
		issuer:      issuer,
		revocations: revocations,
		now:         time.Now,
	}
}

// SetClock replaces the service clock.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// -- Session --

func (s *Service) Login(ctx context.Context, username, password string) (*auth.IssuedToken, error) {
	if err := s.credential.Verify(username, password); err != nil {
		return nil, err
	}
	tok, err := s.issuer.Issue(username, rules.RolePharmacist)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return tok, nil
}

// Logout revokes the token id until the token would have expired anyway.
func (s *Service) Logout(ctx context.Context, jti string, expiresAt time.Time) error {
	if jti == "" {
		return fmt.Errorf("logout without token id: %w", patient.ErrUnauthorized)
	}
	s.revocations.Revoke(jti, expiresAt)
	return nil
}

// -- Dashboard --

// Dashboard pages through consenting patients and flags the ones due for a
// medication review.
func (s *Service) Dashboard(ctx context.Context, limit, offset int) ([]*patient.ConsentingPatient, int, error) {
	items, total, err := s.repos.Patients.ListConsenting(ctx, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list consenting patients: %w", err)
	}
	now := s.now()
	for _, it := range items {
		it.ReviewDue = rules.ReviewDue(it.MedicationCount, it.LastMedReview, now)
	}
	if items == nil {
		items = []*patient.ConsentingPatient{}
	}
	return items, total, nil
}

// -- Review --

// Chart is the BP series in ascending time order.
type Chart struct {
	Labels    []string `json:"labels"`
	Systolic  []int    `json:"systolic"`
	Diastolic []int    `json:"diastolic"`
}

// Review is the pharmacist's view of one consenting patient.
type Review struct {
	Patient       *patient.Patient          `json:"patient"`
	Readings      []*patient.Reading        `json:"readings"`
	Medications   []*patient.Medication     `json:"medications"`
	Symptoms      []*patient.SymptomNote    `json:"symptoms"`
	Accesses      []*patient.AccessLogEntry `json:"accesses"`
	Chart         Chart                     `json:"chart"`
	AvgSystolic   *float64                  `json:"avg_systolic"`
	BPStatus      *rules.BPStatus           `json:"bp_status"`
	MTM           rules.MTMScore            `json:"mtm"`
	ReviewDue     bool                      `json:"review_due"`
	CarePlan      *string                   `json:"care_plan"`
	LastMedReview *time.Time                `json:"last_med_review"`
}

// Review authorizes the pharmacist, records the access and derives the
// clinical summary. Without consent nothing is read beyond the consent flag.
func (s *Service) Review(ctx context.Context, viewer rules.Viewer, id string) (*Review, error) {
	var (
		p        *patient.Patient
		newest   []*patient.Reading
		meds     []*patient.Medication
		symptoms []*patient.SymptomNote
		accesses []*patient.AccessLogEntry
	)
	now := s.now().UTC()
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		if p, err = patient.ViewPatient(ctx, s.repos, viewer, id, now); err != nil {
			return err
		}
		if newest, err = s.repos.Readings.ListLatest(ctx, id, 0); err != nil {
			return fmt.Errorf("list readings: %w", err)
		}
		if meds, err = s.repos.Medications.ListByPatient(ctx, id); err != nil {
			return fmt.Errorf("list medications: %w", err)
		}
		if symptoms, err = s.repos.Symptoms.ListLatest(ctx, id, ReviewSymptomLimit); err != nil {
			return fmt.Errorf("list symptoms: %w", err)
		}
		if accesses, err = s.repos.AccessLog.ListLatest(ctx, id, ReviewAccessLimit); err != nil {
			return fmt.Errorf("list accesses: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	readings := make([]*patient.Reading, 0, len(newest))
	for i := len(newest) - 1; i >= 0; i-- {
		readings = append(readings, newest[i])
	}
	samples := patient.Samples(readings)

	rv := &Review{
		Patient:       p,
		Readings:      readings,
		Medications:   orEmpty(meds),
		Symptoms:      orEmpty(symptoms),
		Accesses:      orEmpty(accesses),
		Chart:         chartOf(readings),
		AvgSystolic:   rules.AverageSystolic(samples),
		BPStatus:      rules.ClassifyBP(samples),
		CarePlan:      p.CarePlan,
		LastMedReview: p.LastMedReview,
	}
	rv.MTM = rules.ScoreMTM(rules.MTMInput{
		Conditions:      p.Conditions,
		MedicationCount: len(rv.Medications),
		Readings:        samples,
	})
	rv.ReviewDue = rules.ReviewDue(len(rv.Medications), p.LastMedReview, now)
	return rv, nil
}

func chartOf(readings []*patient.Reading) Chart {
	ch := Chart{
		Labels:    make([]string, 0, len(readings)),
		Systolic:  make([]int, 0, len(readings)),
		Diastolic: make([]int, 0, len(readings)),
	}
	for _, rd := range readings {
		ch.Labels = append(ch.Labels, rd.RecordedAt.UTC().Format(chartLabelLayout))
		ch.Systolic = append(ch.Systolic, rd.Systolic)
		ch.Diastolic = append(ch.Diastolic, rd.Diastolic)
	}
	return ch
}

// ReviewReport renders the review view as a PDF. It is gated and audited
// exactly like Review.
func (s *Service) ReviewReport(ctx context.Context, viewer rules.Viewer, id string, w io.Writer) error {
	rv, err := s.Review(ctx, viewer, id)
	if err != nil {
		return err
	}
	return report.WriteReviewPDF(w, toReport(rv, viewer.ActorID, s.now().UTC()))
}

func toReport(rv *Review, by string, at time.Time) report.Review {
	r := report.Review{
		PatientID:   rv.Patient.ID,
		PatientName: rv.Patient.Name,
		Conditions:  rv.Patient.Conditions.Strings(),
		GeneratedAt: at,
		GeneratedBy: by,
		AvgSystolic: rv.AvgSystolic,
		MTMScore:    rv.MTM.Score,
		MTMLevel:    rv.MTM.Level,
		MTMFactors:  rv.MTM.Factors,
		ReviewDue:   rv.ReviewDue,
		LastReview:  rv.LastMedReview,
	}
	if rv.BPStatus != nil {
		r.BPStatus = rv.BPStatus.Status
		r.BPSeverity = rv.BPStatus.Severity
	}
	if rv.CarePlan != nil {
		r.CarePlan = *rv.CarePlan
	}
	for _, m := range rv.Medications {
		r.Medications = append(r.Medications, report.Medication{Name: m.Name, Dose: m.Dose, Frequency: m.Frequency})
	}
	for _, rd := range rv.Readings {
		r.Readings = append(r.Readings, report.Reading{
			Timestamp: rd.RecordedAt, Systolic: rd.Systolic, Diastolic: rd.Diastolic, HeartRate: rd.HeartRate,
		})
	}
	for _, sn := range rv.Symptoms {
		r.Symptoms = append(r.Symptoms, report.Symptom{Timestamp: sn.RecordedAt, Note: sn.Note})
	}
	return r
}

// -- Review actions --

// MarkReview stamps the patient's last medication review with the current
// time and returns it.
func (s *Service) MarkReview(ctx context.Context, id string) (time.Time, error) {
	at := s.now().UTC()
	if err := s.repos.Patients.SetLastMedReview(ctx, id, at); err != nil {
		return time.Time{}, err
	}
	return at, nil
}

// SetCarePlan stores the care plan. A blank plan clears it and nil is
// returned.
func (s *Service) SetCarePlan(ctx context.Context, id, text string) (*string, error) {
	var plan *string
	if t := strings.TrimSpace(text); t != "" {
		plan = &t
	}
	if err := s.repos.Patients.SetCarePlan(ctx, id, plan); err != nil {
		return nil, err
	}
	return plan, nil
}

// -- Digest --

// ReviewDigest lists every consenting patient whose review is due at now.
func (s *Service) ReviewDigest(ctx context.Context, now time.Time) ([]notify.DigestEntry, error) {
	var due []notify.DigestEntry
	for offset := 0; ; offset += digestPageSize {
		items, total, err := s.repos.Patients.ListConsenting(ctx, digestPageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("list consenting patients: %w", err)
		}
		for _, it := range items {
			if rules.ReviewDue(it.MedicationCount, it.LastMedReview, now) {
				due = append(due, notify.DigestEntry{
					PatientID:       it.ID,
					Name:            it.Name,
					MedicationCount: it.MedicationCount,
					LastReview:      it.LastMedReview,
				})
			}
		}
		if len(items) == 0 || offset+len(items) >= total {
			break
		}
	}
	return due, nil
}

// SendReviewDigest mails the digest for now. Nothing is sent when no
// review is due. It returns the number of patients listed.
func (s *Service) SendReviewDigest(ctx context.Context, sender notify.Sender, from string, to []string, now time.Time) (int, error) {
	due, err := s.ReviewDigest(ctx, now)
	if err != nil {
		return 0, err
	}
	if len(due) == 0 {
		return 0, nil
	}
	msg, err := notify.DigestMessage(from, to, now, due)
	if err != nil {
		return 0, err
	}
	if err := sender.Send(ctx, msg); err != nil {
		return 0, err
	}
	return len(due), nil
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
