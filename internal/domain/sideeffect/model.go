package sideeffect

import (
	"time"

	"github.com/google/uuid"

	"github.com/eproms/proms/internal/domain/ctcae"
	"github.com/eproms/proms/internal/domain/identity"
	"github.com/eproms/proms/pkg/civil"
)

// ReviewStatus is the clinician review state of a report.
type ReviewStatus string

const (
	StatusPending        ReviewStatus = "pending"
	StatusReviewed       ReviewStatus = "reviewed"
	StatusActionRequired ReviewStatus = "action_required"
	StatusResolved       ReviewStatus = "resolved"
)

var transitions = map[ReviewStatus][]ReviewStatus{
	StatusPending:        {StatusReviewed, StatusActionRequired, StatusResolved},
	StatusActionRequired: {StatusReviewed, StatusResolved},
}

func (s ReviewStatus) Valid() bool {
	switch s {
	case StatusPending, StatusReviewed, StatusActionRequired, StatusResolved:
		return true
	}
	return false
}

// CanTransition reports whether a review may move from s to next. Staying
// in the same status is always allowed. Reviewed and resolved are terminal.
func (s ReviewStatus) CanTransition(next ReviewStatus) bool {
	if s == next {
		return true
	}
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Open reports whether the report still awaits clinical action.
func (s ReviewStatus) Open() bool {
	return s == StatusPending || s == StatusActionRequired
}

// UrgentGrade is the lowest CTCAE grade that needs urgent clinical review.
const UrgentGrade = 3

// Triage derives the urgent flag and initial review status from the grade a
// patient reports. It is applied once, at creation.
func Triage(grade int) (urgent bool, status ReviewStatus) {
	if grade >= UrgentGrade {
		return true, StatusActionRequired
	}
	return false, StatusPending
}

var impacts = []string{"none", "mild", "moderate", "severe"}

// SideEffect maps to the patient_side_effects table.
type SideEffect struct {
	ID                      uuid.UUID    `db:"id" json:"id"`
	PatientID               uuid.UUID    `db:"patient_id" json:"patient_id"`
	TreatmentPlanID         *uuid.UUID   `db:"treatment_plan_id" json:"treatment_plan_id,omitempty"`
	CTCAEEventID            uuid.UUID    `db:"ctcae_event_id" json:"ctcae_event_id"`
	Grade                   int          `db:"grade" json:"grade"`
	OnsetDate               civil.Date   `db:"onset_date" json:"onset_date"`
	ResolutionDate          *civil.Date  `db:"resolution_date" json:"resolution_date,omitempty"`
	IsOngoing               bool         `db:"is_ongoing" json:"is_ongoing"`
	SeverityScore           *int         `db:"severity_score" json:"severity_score,omitempty"`
	ImpactOnDailyLife       *string      `db:"impact_on_daily_life" json:"impact_on_daily_life,omitempty"`
	PatientNotes            *string      `db:"patient_notes" json:"patient_notes,omitempty"`
	ClinicianReviewStatus   ReviewStatus `db:"clinician_review_status" json:"clinician_review_status"`
	ClinicianNotes          *string      `db:"clinician_notes" json:"clinician_notes,omitempty"`
	ReviewedBy              *uuid.UUID   `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewedAt              *time.Time   `db:"reviewed_at" json:"reviewed_at,omitempty"`
	RequiresUrgentAttention bool         `db:"requires_urgent_attention" json:"requires_urgent_attention"`
	CreatedAt               time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt               time.Time    `db:"updated_at" json:"updated_at"`

	AdverseEvent *ctcae.AdverseEvent `json:"adverse_event,omitempty"`
	Reviewer     *identity.Summary   `json:"reviewer,omitempty"`
	Patient      *PatientSummary     `json:"patient,omitempty"`
}

// PatientSummary is the patient attached to entries of the urgent feed.
type PatientSummary struct {
	ID                 uuid.UUID        `json:"id"`
	NHSNumber          string           `json:"nhs_number"`
	PrimaryClinicianID *uuid.UUID       `json:"primary_clinician_id,omitempty"`
	User               identity.Summary `json:"user"`
}

// PatientRef is what the workflow needs to know about a patient to scope
// access.
type PatientRef struct {
	ID                 uuid.UUID
	UserID             uuid.UUID
	PrimaryClinicianID *uuid.UUID
}

// InCareOf reports whether clinicianID is the patient's primary clinician.
func (p *PatientRef) InCareOf(clinicianID uuid.UUID) bool {
	return p.PrimaryClinicianID != nil && *p.PrimaryClinicianID == clinicianID
}

type ReportRequest struct {
	CTCAEEventID      uuid.UUID   `json:"ctcae_event_id"`
	TreatmentPlanID   *uuid.UUID  `json:"treatment_plan_id"`
	Grade             int         `json:"grade"`
	OnsetDate         *civil.Date `json:"onset_date"`
	SeverityScore     *int        `json:"severity_score"`
	ImpactOnDailyLife *string     `json:"impact_on_daily_life"`
	PatientNotes      *string     `json:"patient_notes"`
}

// UpdateRequest holds every field a report update may touch. Which of them
// are applied depends on the caller's role; the rest are dropped.
type UpdateRequest struct {
	ResolutionDate    *civil.Date `json:"resolution_date"`
	IsOngoing         *bool       `json:"is_ongoing"`
	SeverityScore     *int        `json:"severity_score"`
	ImpactOnDailyLife *string     `json:"impact_on_daily_life"`
	PatientNotes      *string     `json:"patient_notes"`

	ClinicianReviewStatus *ReviewStatus `json:"clinician_review_status"`
	ClinicianNotes        *string       `json:"clinician_notes"`
}

// ListQuery is the caller-supplied filter for listing reports.
type ListQuery struct {
	PatientID  *uuid.UUID
	Status     *ReviewStatus
	UrgentOnly bool
	From       *civil.Date
	To         *civil.Date
}

// Filter is the repository-level filter. Zero values match everything.
type Filter struct {
	PatientIDs  []uuid.UUID
	ClinicianID *uuid.UUID
	Statuses    []ReviewStatus
	UrgentOnly  bool
	From        *civil.Date
	To          *civil.Date
	// Limit caps the result; 0 means no limit.
	Limit       int
	WithPatient bool
}
