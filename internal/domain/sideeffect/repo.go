package sideeffect

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrSideEffectNotFound = errors.New("Side effect not found")
	ErrPatientNotFound    = errors.New("Patient not found")
	ErrProfileNotFound    = errors.New("Patient profile not found")
)

// Repository stores side effect reports. Reads return reports with their
// catalog entry and reviewer attached.
type Repository interface {
	Create(ctx context.Context, se *SideEffect) error
	GetByID(ctx context.Context, id uuid.UUID) (*SideEffect, error)
	Update(ctx context.Context, se *SideEffect) error
	// List orders by onset date, newest first.
	List(ctx context.Context, f Filter) ([]*SideEffect, error)
	// CountOpenUrgent counts urgent reports of a patient still pending or
	// awaiting action.
	CountOpenUrgent(ctx context.Context, patientID uuid.UUID) (int, error)
}

// PatientDirectory resolves patients for access checks.
type PatientDirectory interface {
	PatientForUser(ctx context.Context, userID uuid.UUID) (*PatientRef, error)
	PatientByID(ctx context.Context, id uuid.UUID) (*PatientRef, error)
	PlanBelongsTo(ctx context.Context, planID, patientID uuid.UUID) (bool, error)
}
