package registry

import (
	"time"

	"github.com/google/uuid"

	"github.com/eproms/proms/internal/domain/identity"
	"github.com/eproms/proms/internal/domain/sideeffect"
	"github.com/eproms/proms/pkg/civil"
)

var contactPreferences = []string{"email", "sms", "both", "none"}

// Patient maps to the patients table.
type Patient struct {
	ID                    uuid.UUID  `db:"id" json:"id"`
	UserID                uuid.UUID  `db:"user_id" json:"user_id"`
	NHSNumber             string     `db:"nhs_number" json:"nhs_number"`
	DateOfBirth           civil.Date `db:"date_of_birth" json:"date_of_birth"`
	Gender                *string    `db:"gender" json:"gender,omitempty"`
	CancerType            string     `db:"cancer_type" json:"cancer_type"`
	CancerStage           *string    `db:"cancer_stage" json:"cancer_stage,omitempty"`
	DiagnosisDate         civil.Date `db:"diagnosis_date" json:"diagnosis_date"`
	PrimaryClinicianID    *uuid.UUID `db:"primary_clinician_id" json:"primary_clinician_id,omitempty"`
	HospitalNumber        *string    `db:"hospital_number" json:"hospital_number,omitempty"`
	ContactPreference     string     `db:"contact_preference" json:"contact_preference"`
	EmergencyContactName  *string    `db:"emergency_contact_name" json:"emergency_contact_name,omitempty"`
	EmergencyContactPhone *string    `db:"emergency_contact_phone" json:"emergency_contact_phone,omitempty"`
	CreatedAt             time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time  `db:"updated_at" json:"updated_at"`
}

// OwnerID is the user account the profile belongs to.
func (p *Patient) OwnerID() uuid.UUID { return p.UserID }

// TreatmentPlan statuses. Transitions between them are manual.
const (
	PlanPlanned      = "planned"
	PlanActive       = "active"
	PlanCompleted    = "completed"
	PlanDiscontinued = "discontinued"
)

var planStatuses = []string{PlanPlanned, PlanActive, PlanCompleted, PlanDiscontinued}

// TreatmentPlan maps to the treatment_plans table.
type TreatmentPlan struct {
	ID            uuid.UUID   `db:"id" json:"id"`
	PatientID     uuid.UUID   `db:"patient_id" json:"patient_id"`
	TreatmentName string      `db:"treatment_name" json:"treatment_name"`
	TreatmentType string      `db:"treatment_type" json:"treatment_type"`
	ProtocolName  *string     `db:"protocol_name" json:"protocol_name,omitempty"`
	StartDate     civil.Date  `db:"start_date" json:"start_date"`
	EndDate       *civil.Date `db:"end_date" json:"end_date,omitempty"`
	PlannedCycles *int        `db:"planned_cycles" json:"planned_cycles,omitempty"`
	Status        string      `db:"status" json:"status"`
	Notes         *string     `db:"notes" json:"notes,omitempty"`
	CreatedBy     *uuid.UUID  `db:"created_by" json:"created_by,omitempty"`
	CreatedAt     time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time   `db:"updated_at" json:"updated_at"`
}

// PatientSummary is a patient row with the people attached to it.
type PatientSummary struct {
	Patient
	User             identity.Summary  `json:"user"`
	PrimaryClinician *identity.Summary `json:"primary_clinician,omitempty"`
}

// PatientListItem is one row of the patient list.
type PatientListItem struct {
	PatientSummary
	LatestTreatmentPlan *TreatmentPlan `json:"latest_treatment_plan,omitempty"`
}

// PatientRecord is the full patient aggregate. Side effects are capped at
// RecordSideEffectLimit, newest onset first.
type PatientRecord struct {
	PatientSummary
	TreatmentPlans []*TreatmentPlan         `json:"treatment_plans"`
	SideEffects    []*sideeffect.SideEffect `json:"side_effects"`
}

const (
	RecordSideEffectLimit    = 50
	DashboardSideEffectLimit = 10
)

type DashboardStats struct {
	UrgentSideEffects int `json:"urgent_side_effects"`
	ActiveTreatments  int `json:"active_treatments"`
}

// Dashboard is a patient's own overview.
type Dashboard struct {
	Patient           *PatientSummary          `json:"patient"`
	TreatmentPlans    []*TreatmentPlan         `json:"treatment_plans"`
	RecentSideEffects []*sideeffect.SideEffect `json:"recent_side_effects"`
	Stats             DashboardStats           `json:"stats"`
}

// ListFilter narrows the patient list. Search matches the patient's name
// or email; CancerType is a substring match.
type ListFilter struct {
	Search     string
	CancerType string
}

type CreatePatientRequest struct {
	UserID                uuid.UUID   `json:"user_id"`
	NHSNumber             string      `json:"nhs_number"`
	DateOfBirth           *civil.Date `json:"date_of_birth"`
	Gender                *string     `json:"gender"`
	CancerType            string      `json:"cancer_type"`
	CancerStage           *string     `json:"cancer_stage"`
	DiagnosisDate         *civil.Date `json:"diagnosis_date"`
	HospitalNumber        *string     `json:"hospital_number"`
	ContactPreference     string      `json:"contact_preference"`
	EmergencyContactName  *string     `json:"emergency_contact_name"`
	EmergencyContactPhone *string     `json:"emergency_contact_phone"`
}

// UpdatePatientRequest lists the fields an update may change. id, user_id
// and nhs_number have no field here, so they are ignored when sent.
type UpdatePatientRequest struct {
	DateOfBirth           *civil.Date `json:"date_of_birth"`
	Gender                *string     `json:"gender"`
	CancerType            *string     `json:"cancer_type"`
	CancerStage           *string     `json:"cancer_stage"`
	DiagnosisDate         *civil.Date `json:"diagnosis_date"`
	PrimaryClinicianID    *uuid.UUID  `json:"primary_clinician_id"`
	HospitalNumber        *string     `json:"hospital_number"`
	ContactPreference     *string     `json:"contact_preference"`
	EmergencyContactName  *string     `json:"emergency_contact_name"`
	EmergencyContactPhone *string     `json:"emergency_contact_phone"`
}

type PlanRequest struct {
	TreatmentName string      `json:"treatment_name"`
	TreatmentType string      `json:"treatment_type"`
	ProtocolName  *string     `json:"protocol_name"`
	StartDate     *civil.Date `json:"start_date"`
	EndDate       *civil.Date `json:"end_date"`
	PlannedCycles *int        `json:"planned_cycles"`
	Status        string      `json:"status"`
	Notes         *string     `json:"notes"`
}

type PlanUpdateRequest struct {
	TreatmentName *string     `json:"treatment_name"`
	TreatmentType *string     `json:"treatment_type"`
	ProtocolName  *string     `json:"protocol_name"`
	StartDate     *civil.Date `json:"start_date"`
	EndDate       *civil.Date `json:"end_date"`
	PlannedCycles *int        `json:"planned_cycles"`
	Status        *string     `json:"status"`
	Notes         *string     `json:"notes"`
}
