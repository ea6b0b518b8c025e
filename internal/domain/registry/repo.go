package registry

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/eproms/proms/internal/domain/sideeffect"
)

var (
	ErrPatientNotFound = errors.New("Patient not found")
	ErrProfileNotFound = errors.New("Patient profile not found")
	ErrNHSNumberTaken  = errors.New("NHS number already exists")
	ErrProfileExists   = errors.New("User already has a patient profile")
	ErrPlanNotFound    = errors.New("Treatment plan not found")
)

type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	NHSNumberExists(ctx context.Context, nhsNumber string) (bool, error)
	// GetSummary and GetSummaryByUser return ErrPatientNotFound when no
	// patient matches.
	GetSummary(ctx context.Context, id uuid.UUID) (*PatientSummary, error)
	GetSummaryByUser(ctx context.Context, userID uuid.UUID) (*PatientSummary, error)
	// List orders by created_at, newest first.
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*PatientSummary, int, error)
}

type TreatmentPlanRepository interface {
	Create(ctx context.Context, tp *TreatmentPlan) error
	GetByID(ctx context.Context, id uuid.UUID) (*TreatmentPlan, error)
	Update(ctx context.Context, tp *TreatmentPlan) error
	// ListByPatient orders by start date, newest first. An empty statuses
	// slice matches every status.
	ListByPatient(ctx context.Context, patientID uuid.UUID, statuses []string) ([]*TreatmentPlan, error)
	// LatestByPatients returns the most recently created plan of each
	// patient that has one.
	LatestByPatients(ctx context.Context, patientIDs []uuid.UUID) (map[uuid.UUID]*TreatmentPlan, error)
}

// SideEffectReader is the read side of the side effect workflow used to
// build patient aggregates.
type SideEffectReader interface {
	List(ctx context.Context, f sideeffect.Filter) ([]*sideeffect.SideEffect, error)
	CountOpenUrgent(ctx context.Context, patientID uuid.UUID) (int, error)
}
