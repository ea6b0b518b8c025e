package ctcae

import (
	"time"

	"github.com/google/uuid"
)

// AdverseEvent maps to the ctcae_adverse_events table: one CTCAE term with
// its clinical grade descriptions and a patient-facing wording.
type AdverseEvent struct {
	ID                         uuid.UUID  `db:"id" json:"id"`
	CategoryID                 *uuid.UUID `db:"category_id" json:"category_id,omitempty"`
	Category                   *string    `db:"category" json:"category,omitempty"`
	EventName                  string     `db:"event_name" json:"event_name"`
	MedDRACode                 *string    `db:"meddra_code" json:"meddra_code,omitempty"`
	Grade1Description          *string    `db:"grade_1_description" json:"grade_1_description,omitempty"`
	Grade2Description          *string    `db:"grade_2_description" json:"grade_2_description,omitempty"`
	Grade3Description          *string    `db:"grade_3_description" json:"grade_3_description,omitempty"`
	Grade4Description          *string    `db:"grade_4_description" json:"grade_4_description,omitempty"`
	Grade5Description          *string    `db:"grade_5_description" json:"grade_5_description,omitempty"`
	PatientFriendlyName        *string    `db:"patient_friendly_name" json:"patient_friendly_name,omitempty"`
	PatientFriendlyDescription *string    `db:"patient_friendly_description" json:"patient_friendly_description,omitempty"`
	DisplayOrder               int        `db:"display_order" json:"display_order"`
	CreatedAt                  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt                  time.Time  `db:"updated_at" json:"updated_at"`
}

// GradeDescription returns the description for grade 1-5, or "" when the
// grade is out of range or undescribed.
func (e *AdverseEvent) GradeDescription(grade int) string {
	var d *string
	switch grade {
	case 1:
		d = e.Grade1Description
	case 2:
		d = e.Grade2Description
	case 3:
		d = e.Grade3Description
	case 4:
		d = e.Grade4Description
	case 5:
		d = e.Grade5Description
	}
	if d == nil {
		return ""
	}
	return *d
}

// DisplayName prefers the patient-facing name.
func (e *AdverseEvent) DisplayName() string {
	if e.PatientFriendlyName != nil && *e.PatientFriendlyName != "" {
		return *e.PatientFriendlyName
	}
	return e.EventName
}

// Filter narrows a catalog listing. Zero values match everything.
type Filter struct {
	Search     string
	CategoryID *uuid.UUID
}
