// Package rules holds the clinical rule engine: consent-gated access
// decisions, blood-pressure classification, MTM risk scoring and the
// medication-review due rule. Every function here is pure; callers pass in a
// snapshot of the patient's records and get a derived view back.
package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Viewer roles.
const (
	RolePatient    = "patient"
	RolePharmacist = "pharmacist"
)

// Deny reasons.
const (
	ReasonNoConsent   = "no_consent"
	ReasonNotOwner    = "not_owner"
	ReasonUnknownRole = "unknown_role"
)

var (
	// ErrConsentDenied is returned when a pharmacist views a record whose
	// owner has not granted consent.
	ErrConsentDenied = errors.New("consent denied")
	// ErrAccessDenied covers every other denied decision.
	ErrAccessDenied = errors.New("access denied")
	// ErrUnknownCondition is returned when a condition tag is not recognised.
	ErrUnknownCondition = errors.New("unknown condition tag")
)

// Viewer is the explicit identity an access decision is made for.
type Viewer struct {
	Role    string
	ActorID string
}

// Subject is the part of a patient record that access decisions depend on.
type Subject struct {
	PatientID string
	Consent   bool
}

// Decision is the outcome of Authorize.
type Decision struct {
	Allowed bool
	Reason  string
}

// Err converts a denied decision into its sentinel error. It returns nil for
// an allowed decision.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	if d.Reason == ReasonNoConsent {
		return ErrConsentDenied
	}
	return fmt.Errorf("%w: %s", ErrAccessDenied, d.Reason)
}

// Authorize decides whether viewer may see the subject's record.
func Authorize(viewer Viewer, subject Subject) Decision {
	switch viewer.Role {
	case RolePatient:
		if viewer.ActorID != subject.PatientID {
			return Decision{Reason: ReasonNotOwner}
		}
		return Decision{Allowed: true}
	case RolePharmacist:
		if !subject.Consent {
			return Decision{Reason: ReasonNoConsent}
		}
		return Decision{Allowed: true}
	default:
		return Decision{Reason: ReasonUnknownRole}
	}
}

// -- Conditions --

// Condition is a chronic-condition tag.
type Condition string

const (
	Hypertension Condition = "HTN"
	Diabetes     Condition = "DM"
	Dyslipidemia Condition = "DLD"
)

var knownConditions = map[Condition]bool{
	Hypertension: true,
	Diabetes:     true,
	Dyslipidemia: true,
}

// ConditionSet is a duplicate-free set of known condition tags.
type ConditionSet map[Condition]struct{}

// ParseConditions builds a set from raw tags. Tags are trimmed and
// upper-cased; blanks are skipped and duplicates collapse.
func ParseConditions(tags []string) (ConditionSet, error) {
	set := ConditionSet{}
	for _, raw := range tags {
		tag := Condition(strings.ToUpper(strings.TrimSpace(raw)))
		if tag == "" {
			continue
		}
		if !knownConditions[tag] {
			return nil, fmt.Errorf("%w: %q", ErrUnknownCondition, raw)
		}
		set[tag] = struct{}{}
	}
	return set, nil
}

// Has reports whether c is in the set.
func (s ConditionSet) Has(c Condition) bool {
	_, ok := s[c]
	return ok
}

// Add inserts c into the set.
func (s ConditionSet) Add(c Condition) {
	s[c] = struct{}{}
}

// Len returns the number of tags.
func (s ConditionSet) Len() int { return len(s) }

// Strings returns the tags in sorted order.
func (s ConditionSet) Strings() []string {
	out := make([]string, 0, len(s))
	for c := range s {
		out = append(out, string(c))
	}
	sort.Strings(out)
	return out
}

// MarshalJSON renders the set as a sorted array of tags.
func (s ConditionSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Strings())
}

// -- Blood pressure --

// Severity values returned with a BP status.
const (
	SeveritySuccess = "success"
	SeverityWarning = "warning"
	SeverityDanger  = "danger"
)

// BP status labels.
const (
	StatusControlled   = "Controlled"
	StatusElevated     = "Elevated"
	StatusUncontrolled = "Uncontrolled"
)

// BPSample is one blood-pressure measurement.
type BPSample struct {
	Systolic  int
	Diastolic int
	Timestamp time.Time
}

// BPStatus is the classification of the latest reading.
type BPStatus struct {
	Status   string `json:"status"`
	Severity string `json:"severity"`
}

// Latest returns the most recent sample. ok is false when samples is empty.
// Ties keep the earliest position in the slice.
func Latest(samples []BPSample) (latest BPSample, ok bool) {
	for i, s := range samples {
		if i == 0 || s.Timestamp.After(latest.Timestamp) {
			latest = s
		}
	}
	return latest, len(samples) > 0
}

// ClassifySample classifies a single measurement.
func ClassifySample(s BPSample) BPStatus {
	switch {
	case s.Systolic >= 140 || s.Diastolic >= 90:
		return BPStatus{Status: StatusUncontrolled, Severity: SeverityDanger}
	case s.Systolic >= 120 || s.Diastolic >= 80:
		return BPStatus{Status: StatusElevated, Severity: SeverityWarning}
	default:
		return BPStatus{Status: StatusControlled, Severity: SeveritySuccess}
	}
}

// ClassifyBP classifies the latest reading. It returns nil only when there
// are no readings.
func ClassifyBP(samples []BPSample) *BPStatus {
	latest, ok := Latest(samples)
	if !ok {
		return nil
	}
	st := ClassifySample(latest)
	return &st
}

// AverageSystolic returns the mean systolic value, or nil with no samples.
func AverageSystolic(samples []BPSample) *float64 {
	if len(samples) == 0 {
		return nil
	}
	sum := 0
	for _, s := range samples {
		sum += s.Systolic
	}
	avg := float64(sum) / float64(len(samples))
	return &avg
}

// -- MTM risk --

// MTM risk levels.
const (
	LevelLow      = "Low"
	LevelModerate = "Moderate"
	LevelHigh     = "High"
)

// Names of the scoring factors reported back with a score.
const (
	FactorPolypharmacy   = "polypharmacy"
	FactorUncontrolledBP = "uncontrolled_bp"
	factorConditionPfx   = "condition:"
)

// MTMPolicy fixes the weights and thresholds used by ScoreMTM.
type MTMPolicy struct {
	PolypharmacyThreshold int
	PolypharmacyWeight    int
	ConditionWeight       int
	UncontrolledBPWeight  int
	// ModerateFrom and HighFrom are the lowest scores of each level.
	ModerateFrom int
	HighFrom     int
}

// DefaultMTMPolicy is the policy the service runs with.
var DefaultMTMPolicy = MTMPolicy{
	PolypharmacyThreshold: 5,
	PolypharmacyWeight:    2,
	ConditionWeight:       1,
	UncontrolledBPWeight:  2,
	ModerateFrom:          2,
	HighFrom:              4,
}

// MTMInput is the snapshot ScoreMTM works on.
type MTMInput struct {
	Conditions      ConditionSet
	MedicationCount int
	Readings        []BPSample
}

// MTMScore is the result of ScoreMTM.
type MTMScore struct {
	Score   int      `json:"score"`
	Level   string   `json:"level"`
	Factors []string `json:"factors"`
}

// ScoreMTM scores with DefaultMTMPolicy.
func ScoreMTM(in MTMInput) MTMScore {
	return DefaultMTMPolicy.Score(in)
}

// Score adds the weight of every rule that fires and maps the total onto a
// level.
func (p MTMPolicy) Score(in MTMInput) MTMScore {
	res := MTMScore{Factors: []string{}}

	if in.MedicationCount >= p.PolypharmacyThreshold {
		res.Score += p.PolypharmacyWeight
		res.Factors = append(res.Factors, FactorPolypharmacy)
	}
	for _, tag := range in.Conditions.Strings() {
		res.Score += p.ConditionWeight
		res.Factors = append(res.Factors, factorConditionPfx+tag)
	}
	if st := ClassifyBP(in.Readings); st != nil && st.Status == StatusUncontrolled {
		res.Score += p.UncontrolledBPWeight
		res.Factors = append(res.Factors, FactorUncontrolledBP)
	}

	res.Level = p.Level(res.Score)
	return res
}

// Level maps a score onto Low, Moderate or High.
func (p MTMPolicy) Level(score int) string {
	switch {
	case score >= p.HighFrom:
		return LevelHigh
	case score >= p.ModerateFrom:
		return LevelModerate
	default:
		return LevelLow
	}
}

// -- Medication review --

// ReviewMedicationThreshold is the medication count from which a periodic
// review is required.
const ReviewMedicationThreshold = 5

// ReviewIntervalMonths is the calendar-month interval between reviews.
const ReviewIntervalMonths = 6

// ReviewDue reports whether a medication review is due at now.
func ReviewDue(medCount int, lastReview *time.Time, now time.Time) bool {
	if medCount < ReviewMedicationThreshold {
		return false
	}
	if lastReview == nil {
		return true
	}
	return !now.Before(addMonthsClamped(*lastReview, ReviewIntervalMonths))
}

// addMonthsClamped adds months to t, keeping the day within the target
// month: Aug 31 plus six months is the last day of February.
func addMonthsClamped(t time.Time, months int) time.Time {
	first := time.Date(t.Year(), t.Month(), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	first = first.AddDate(0, months, 0)
	lastDay := first.AddDate(0, 1, -1).Day()
	day := t.Day()
	if day > lastDay {
		day = lastDay
	}
	return first.AddDate(0, 0, day-1)
}
