package sideeffect

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eproms/proms/internal/domain/ctcae"
	"github.com/eproms/proms/internal/platform/auth"
	"github.com/eproms/proms/internal/platform/db"
	"github.com/eproms/proms/internal/platform/events"
	"github.com/eproms/proms/pkg/validate"
)

var (
	ErrAccessDenied      = errors.New("Access denied")
	ErrInvalidTransition = errors.New("invalid review status transition")
)

// publishTimeout bounds how long a report waits on the alert broker.
const publishTimeout = 5 * time.Second

// Catalog looks up CTCAE terms.
type Catalog interface {
	GetEvent(ctx context.Context, id uuid.UUID) (*ctcae.AdverseEvent, error)
}

type Service struct {
	reports  Repository
	patients PatientDirectory
	catalog  Catalog
	policy   *auth.PolicyTable
	alerts   events.Publisher
	logger   zerolog.Logger
	now      func() time.Time
	tx       db.TxRunner
}

func NewService(
	reports Repository,
	patients PatientDirectory,
	catalog Catalog,
	policy *auth.PolicyTable,
	alerts events.Publisher,
	logger zerolog.Logger,
) *Service {
	return &Service{
		reports:  reports,
		patients: patients,
		catalog:  catalog,
		policy:   policy,
		alerts:   alerts,
		logger:   logger,
		now:      time.Now,
		tx:       db.NoTx,
	}
}

// UseTx makes Update read and write the report in one transaction.
func (s *Service) UseTx(run db.TxRunner) *Service {
	s.tx = run
	return s
}

// cleanNotes strips control characters from free text; nil stays nil.
func cleanNotes(notes *string) *string {
	if notes == nil {
		return nil
	}
	v := validate.CleanText(*notes)
	return &v
}

func (s *Service) scope(p *auth.Principal, action auth.Action) auth.Scope {
	if p == nil {
		return auth.ScopeNone
	}
	return s.policy.Scope(auth.ResourceSideEffect, action, p.Role)
}

func checkPatientFields(errs *validate.Errors, severity *int, impact *string) {
	if severity != nil && (*severity < 1 || *severity > 10) {
		errs.Add("severity_score", "must be between 1 and 10")
	}
	if impact != nil && !validate.OneOf(*impact, impacts...) {
		errs.Add("impact_on_daily_life", "must be one of "+strings.Join(impacts, ", "))
	}
}

// Report records a side effect against the caller's own patient profile.
// Grades of 3 and above are flagged urgent, start in action_required and
// raise an alert.
func (s *Service) Report(ctx context.Context, p *auth.Principal, req ReportRequest) (*SideEffect, error) {
	if s.scope(p, auth.ActionReport) != auth.ScopeSelf {
		return nil, ErrAccessDenied
	}

	var errs validate.Errors
	if req.CTCAEEventID == uuid.Nil {
		errs.Add("ctcae_event_id", "is required")
	}
	if req.Grade < 1 || req.Grade > 5 {
		errs.Add("grade", "must be between 1 and 5")
	}
	if req.OnsetDate == nil {
		errs.Add("onset_date", "is required")
	}
	checkPatientFields(&errs, req.SeverityScore, req.ImpactOnDailyLife)
	if err := errs.Err(); err != nil {
		return nil, err
	}

	patient, err := s.patients.PatientForUser(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	event, err := s.catalog.GetEvent(ctx, req.CTCAEEventID)
	if err != nil {
		return nil, err
	}
	if req.TreatmentPlanID != nil {
		ok, err := s.patients.PlanBelongsTo(ctx, *req.TreatmentPlanID, patient.ID)
		if err != nil {
			return nil, err
		}
		if !ok {
			errs.Add("treatment_plan_id", "does not belong to this patient")
			return nil, errs.Err()
		}
	}

	urgent, status := Triage(req.Grade)
	se := &SideEffect{
		PatientID:               patient.ID,
		TreatmentPlanID:         req.TreatmentPlanID,
		CTCAEEventID:            event.ID,
		Grade:                   req.Grade,
		OnsetDate:               *req.OnsetDate,
		IsOngoing:               true,
		SeverityScore:           req.SeverityScore,
		ImpactOnDailyLife:       req.ImpactOnDailyLife,
		PatientNotes:            cleanNotes(req.PatientNotes),
		ClinicianReviewStatus:   status,
		RequiresUrgentAttention: urgent,
	}
	if err := s.reports.Create(ctx, se); err != nil {
		return nil, err
	}
	se.AdverseEvent = event

	if urgent {
		s.publishUrgent(ctx, se, patient, event)
	}
	return se, nil
}

// publishUrgent never fails the report; broker errors are logged.
func (s *Service) publishUrgent(ctx context.Context, se *SideEffect, patient *PatientRef, event *ctcae.AdverseEvent) {
	if s.alerts == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err := s.alerts.PublishUrgent(ctx, events.UrgentSideEffect{
		Type:               events.TypeUrgentSideEffect,
		SideEffectID:       se.ID,
		PatientID:          se.PatientID,
		PrimaryClinicianID: patient.PrimaryClinicianID,
		CTCAEEventID:       se.CTCAEEventID,
		EventName:          event.EventName,
		Grade:              se.Grade,
		OnsetDate:          se.OnsetDate.String(),
		ReportedAt:         s.now().UTC(),
	})
	if err != nil {
		s.logger.Error().Err(err).
			Str("side_effect_id", se.ID.String()).
			Str("patient_id", se.PatientID.String()).
			Msg("failed to publish urgent side effect alert")
	}
}

// List returns reports visible to the caller. Patients only ever see their
// own; clinicians see the patients in their care.
func (s *Service) List(ctx context.Context, p *auth.Principal, q ListQuery) ([]*SideEffect, error) {
	f := Filter{UrgentOnly: q.UrgentOnly, From: q.From, To: q.To}
	if q.Status != nil {
		if !q.Status.Valid() {
			var errs validate.Errors
			errs.Add("status", fmt.Sprintf("unknown review status %q", *q.Status))
			return nil, errs.Err()
		}
		f.Statuses = []ReviewStatus{*q.Status}
	}

	switch s.scope(p, auth.ActionList) {
	case auth.ScopeSelf:
		patient, err := s.patients.PatientForUser(ctx, p.UserID)
		if err != nil {
			return nil, err
		}
		f.PatientIDs = []uuid.UUID{patient.ID}
	case auth.ScopeCareTeam:
		if q.PatientID == nil {
			f.ClinicianID = &p.UserID
			break
		}
		patient, err := s.patients.PatientByID(ctx, *q.PatientID)
		if err != nil {
			return nil, err
		}
		if !patient.InCareOf(p.UserID) {
			return nil, ErrAccessDenied
		}
		f.PatientIDs = []uuid.UUID{patient.ID}
	case auth.ScopeAll:
		if q.PatientID != nil {
			f.PatientIDs = []uuid.UUID{*q.PatientID}
		}
	default:
		return nil, ErrAccessDenied
	}

	return s.list(ctx, f)
}

// Urgent returns unresolved urgent reports, newest onset first, with the
// patient attached.
func (s *Service) Urgent(ctx context.Context, p *auth.Principal) ([]*SideEffect, error) {
	f := Filter{
		UrgentOnly:  true,
		Statuses:    []ReviewStatus{StatusPending, StatusActionRequired},
		WithPatient: true,
	}
	switch s.scope(p, auth.ActionUrgent) {
	case auth.ScopeCareTeam:
		f.ClinicianID = &p.UserID
	case auth.ScopeAll:
	default:
		return nil, ErrAccessDenied
	}
	return s.list(ctx, f)
}

func (s *Service) list(ctx context.Context, f Filter) ([]*SideEffect, error) {
	items, err := s.reports.List(ctx, f)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*SideEffect{}
	}
	return items, nil
}

// Update applies the fields the caller's role may change. Patients edit the
// course of their own reports; clinicians and admins review them. Setting a
// review status stamps the reviewer and time.
func (s *Service) Update(ctx context.Context, p *auth.Principal, id uuid.UUID, req UpdateRequest) (*SideEffect, error) {
	scope := s.scope(p, auth.ActionUpdate)
	if scope == auth.ScopeNone {
		return nil, ErrAccessDenied
	}

	var out *SideEffect
	err := s.tx(ctx, func(ctx context.Context) error {
		se, err := s.reports.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := s.authorizeUpdate(ctx, p, scope, se, req); err != nil {
			return err
		}
		if err := s.reports.Update(ctx, se); err != nil {
			return err
		}
		out, err = s.reports.GetByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// authorizeUpdate checks the caller may touch se and applies the fields
// their scope allows.
func (s *Service) authorizeUpdate(ctx context.Context, p *auth.Principal, scope auth.Scope, se *SideEffect, req UpdateRequest) error {
	switch scope {
	case auth.ScopeSelf:
		patient, err := s.patients.PatientForUser(ctx, p.UserID)
		if errors.Is(err, ErrProfileNotFound) {
			return ErrAccessDenied
		}
		if err != nil {
			return err
		}
		if se.PatientID != patient.ID {
			return ErrAccessDenied
		}
		return s.applyPatientUpdate(se, req)
	case auth.ScopeCareTeam:
		patient, err := s.patients.PatientByID(ctx, se.PatientID)
		if err != nil {
			return err
		}
		if !patient.InCareOf(p.UserID) {
			return ErrAccessDenied
		}
		return s.applyReview(se, p, req)
	case auth.ScopeAll:
		return s.applyReview(se, p, req)
	}
	return ErrAccessDenied
}

func (s *Service) applyPatientUpdate(se *SideEffect, req UpdateRequest) error {
	var errs validate.Errors
	checkPatientFields(&errs, req.SeverityScore, req.ImpactOnDailyLife)
	if req.ResolutionDate != nil && se.OnsetDate.After(*req.ResolutionDate) {
		errs.Add("resolution_date", "must not be before the onset date")
	}
	if err := errs.Err(); err != nil {
		return err
	}

	if req.ResolutionDate != nil {
		se.ResolutionDate = req.ResolutionDate
	}
	if req.IsOngoing != nil {
		se.IsOngoing = *req.IsOngoing
	}
	if req.SeverityScore != nil {
		se.SeverityScore = req.SeverityScore
	}
	if req.ImpactOnDailyLife != nil {
		se.ImpactOnDailyLife = req.ImpactOnDailyLife
	}
	if req.PatientNotes != nil {
		se.PatientNotes = cleanNotes(req.PatientNotes)
	}
	return nil
}

func (s *Service) applyReview(se *SideEffect, p *auth.Principal, req UpdateRequest) error {
	if req.ClinicianReviewStatus != nil {
		next := *req.ClinicianReviewStatus
		if !next.Valid() {
			var errs validate.Errors
			errs.Add("clinician_review_status", fmt.Sprintf("unknown review status %q", next))
			return errs.Err()
		}
		if !se.ClinicianReviewStatus.CanTransition(next) {
			return fmt.Errorf("%w from %s to %s", ErrInvalidTransition, se.ClinicianReviewStatus, next)
		}
		now := s.now().UTC()
		reviewer := p.UserID
		se.ClinicianReviewStatus = next
		se.ReviewedBy = &reviewer
		se.ReviewedAt = &now
	}
	if req.ClinicianNotes != nil {
		se.ClinicianNotes = cleanNotes(req.ClinicianNotes)
	}
	return nil
}
