package registry

import (
	"context"
	"errors"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/eproms/proms/internal/domain/identity"
	"github.com/eproms/proms/internal/domain/sideeffect"
	"github.com/eproms/proms/internal/platform/auth"
	"github.com/eproms/proms/internal/platform/db"
	"github.com/eproms/proms/pkg/pagination"
	"github.com/eproms/proms/pkg/validate"
)

var (
	ErrAccessDenied     = errors.New("Access denied")
	ErrNotPatientUser   = errors.New("Invalid user or user is not a patient")
	ErrInvalidClinician = errors.New("Primary clinician must be an active clinician or admin")
)

type Service struct {
	patients    PatientRepository
	plans       TreatmentPlanRepository
	accounts    auth.AccountLookup
	sideEffects SideEffectReader
	policy      *auth.PolicyTable
	tx          db.TxRunner
}

func NewService(
	patients PatientRepository,
	plans TreatmentPlanRepository,
	accounts auth.AccountLookup,
	sideEffects SideEffectReader,
	policy *auth.PolicyTable,
) *Service {
	return &Service{
		patients:    patients,
		plans:       plans,
		accounts:    accounts,
		sideEffects: sideEffects,
		policy:      policy,
		tx:          db.NoTx,
	}
}

// UseTx makes Create run its duplicate checks and insert in one transaction.
func (s *Service) UseTx(run db.TxRunner) *Service {
	s.tx = run
	return s
}

func (s *Service) scope(p *auth.Principal, resource auth.Resource, action auth.Action) auth.Scope {
	if p == nil {
		return auth.ScopeNone
	}
	return s.policy.Scope(resource, action, p.Role)
}

// NormalizeNHSNumber strips whitespace. ok is false unless exactly ten
// digits remain.
func NormalizeNHSNumber(s string) (string, bool) {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsSpace(r) {
			continue
		}
		if r < '0' || r > '9' {
			return "", false
		}
		b.WriteRune(r)
	}
	out := b.String()
	return out, len(out) == 10
}

// List returns one page of patients, each with its latest treatment plan.
func (s *Service) List(ctx context.Context, p *auth.Principal, f ListFilter, page pagination.Params) ([]*PatientListItem, pagination.Meta, error) {
	if s.scope(p, auth.ResourcePatient, auth.ActionList) == auth.ScopeNone {
		return nil, pagination.Meta{}, ErrAccessDenied
	}
	rows, total, err := s.patients.List(ctx, f, page.Limit, page.Offset())
	if err != nil {
		return nil, pagination.Meta{}, err
	}
	ids := make([]uuid.UUID, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	latest, err := s.plans.LatestByPatients(ctx, ids)
	if err != nil {
		return nil, pagination.Meta{}, err
	}
	items := make([]*PatientListItem, len(rows))
	for i, r := range rows {
		items[i] = &PatientListItem{PatientSummary: *r, LatestTreatmentPlan: latest[r.ID]}
	}
	return items, pagination.NewMeta(page, total), nil
}

// Get loads the full patient record. Patients may only load their own.
func (s *Service) Get(ctx context.Context, p *auth.Principal, id uuid.UUID) (*PatientRecord, error) {
	scope := s.scope(p, auth.ResourcePatient, auth.ActionRead)
	if scope == auth.ScopeNone {
		return nil, ErrAccessDenied
	}
	summary, err := s.patients.GetSummary(ctx, id)
	if err != nil {
		return nil, err
	}
	if scope == auth.ScopeSelf && summary.UserID != p.UserID {
		return nil, ErrAccessDenied
	}

	plans, err := s.plans.ListByPatient(ctx, id, nil)
	if err != nil {
		return nil, err
	}
	effects, err := s.sideEffects.List(ctx, sideeffect.Filter{
		PatientIDs: []uuid.UUID{id},
		Limit:      RecordSideEffectLimit,
	})
	if err != nil {
		return nil, err
	}
	return &PatientRecord{
		PatientSummary: *summary,
		TreatmentPlans: nonNilPlans(plans),
		SideEffects:    nonNilEffects(effects),
	}, nil
}

// Create registers a patient profile for an existing patient user. The
// caller becomes the primary clinician.
func (s *Service) Create(ctx context.Context, p *auth.Principal, req CreatePatientRequest) (*Patient, error) {
	if s.scope(p, auth.ResourcePatient, auth.ActionCreate) == auth.ScopeNone {
		return nil, ErrAccessDenied
	}

	var errs validate.Errors
	if req.UserID == uuid.Nil {
		errs.Add("user_id", "is required")
	}
	nhs, ok := NormalizeNHSNumber(req.NHSNumber)
	if errs.Required("nhs_number", req.NHSNumber) && !ok {
		errs.Add("nhs_number", "must be 10 digits")
	}
	if req.DateOfBirth == nil {
		errs.Add("date_of_birth", "is required")
	}
	errs.Required("cancer_type", req.CancerType)
	if req.DiagnosisDate == nil {
		errs.Add("diagnosis_date", "is required")
	}
	pref := strings.TrimSpace(req.ContactPreference)
	if pref == "" {
		pref = "email"
	}
	if !validate.OneOf(pref, contactPreferences...) {
		errs.Add("contact_preference", "must be one of "+strings.Join(contactPreferences, ", "))
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}

	clinician := p.UserID
	patient := &Patient{
		UserID:                req.UserID,
		NHSNumber:             nhs,
		DateOfBirth:           *req.DateOfBirth,
		Gender:                req.Gender,
		CancerType:            strings.TrimSpace(req.CancerType),
		CancerStage:           req.CancerStage,
		DiagnosisDate:         *req.DiagnosisDate,
		PrimaryClinicianID:    &clinician,
		HospitalNumber:        req.HospitalNumber,
		ContactPreference:     pref,
		EmergencyContactName:  req.EmergencyContactName,
		EmergencyContactPhone: req.EmergencyContactPhone,
	}
	err := s.tx(ctx, func(ctx context.Context) error {
		exists, err := s.patients.NHSNumberExists(ctx, nhs)
		if err != nil {
			return err
		}
		if exists {
			return ErrNHSNumberTaken
		}
		acct, err := s.accounts.LookupAccount(ctx, req.UserID)
		if errors.Is(err, auth.ErrAccountNotFound) {
			return ErrNotPatientUser
		}
		if err != nil {
			return err
		}
		if acct.Role != auth.RolePatient {
			return ErrNotPatientUser
		}
		return s.patients.Create(ctx, patient)
	})
	if err != nil {
		return nil, err
	}
	return patient, nil
}

// Update applies the non-nil fields of req.
func (s *Service) Update(ctx context.Context, p *auth.Principal, id uuid.UUID, req UpdatePatientRequest) (*Patient, error) {
	if s.scope(p, auth.ResourcePatient, auth.ActionUpdate) == auth.ScopeNone {
		return nil, ErrAccessDenied
	}
	patient, err := s.patients.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	var errs validate.Errors
	if req.CancerType != nil && strings.TrimSpace(*req.CancerType) == "" {
		errs.Add("cancer_type", "must not be empty")
	}
	if req.ContactPreference != nil && !validate.OneOf(*req.ContactPreference, contactPreferences...) {
		errs.Add("contact_preference", "must be one of "+strings.Join(contactPreferences, ", "))
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}
	if req.PrimaryClinicianID != nil {
		if err := s.checkClinician(ctx, *req.PrimaryClinicianID); err != nil {
			return nil, err
		}
		patient.PrimaryClinicianID = req.PrimaryClinicianID
	}

	if req.DateOfBirth != nil {
		patient.DateOfBirth = *req.DateOfBirth
	}
	if req.Gender != nil {
		patient.Gender = req.Gender
	}
	if req.CancerType != nil {
		patient.CancerType = strings.TrimSpace(*req.CancerType)
	}
	if req.CancerStage != nil {
		patient.CancerStage = req.CancerStage
	}
	if req.DiagnosisDate != nil {
		patient.DiagnosisDate = *req.DiagnosisDate
	}
	if req.HospitalNumber != nil {
		patient.HospitalNumber = req.HospitalNumber
	}
	if req.ContactPreference != nil {
		patient.ContactPreference = *req.ContactPreference
	}
	if req.EmergencyContactName != nil {
		patient.EmergencyContactName = req.EmergencyContactName
	}
	if req.EmergencyContactPhone != nil {
		patient.EmergencyContactPhone = req.EmergencyContactPhone
	}

	if err := s.patients.Update(ctx, patient); err != nil {
		return nil, err
	}
	return patient, nil
}

func (s *Service) checkClinician(ctx context.Context, id uuid.UUID) error {
	acct, err := s.accounts.LookupAccount(ctx, id)
	if errors.Is(err, auth.ErrAccountNotFound) {
		return ErrInvalidClinician
	}
	if err != nil {
		return err
	}
	if !acct.Active || (acct.Role != auth.RoleClinician && acct.Role != auth.RoleAdmin) {
		return ErrInvalidClinician
	}
	return nil
}

// Dashboard is the caller's own overview: current plans, recent reports
// and counts.
func (s *Service) Dashboard(ctx context.Context, p *auth.Principal) (*Dashboard, error) {
	if s.scope(p, auth.ResourcePatient, auth.ActionDashboard) != auth.ScopeSelf {
		return nil, ErrAccessDenied
	}
	summary, err := s.patients.GetSummaryByUser(ctx, p.UserID)
	if errors.Is(err, ErrPatientNotFound) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, err
	}

	plans, err := s.plans.ListByPatient(ctx, summary.ID, []string{PlanActive, PlanPlanned})
	if err != nil {
		return nil, err
	}
	recent, err := s.sideEffects.List(ctx, sideeffect.Filter{
		PatientIDs: []uuid.UUID{summary.ID},
		Limit:      DashboardSideEffectLimit,
	})
	if err != nil {
		return nil, err
	}
	urgent, err := s.sideEffects.CountOpenUrgent(ctx, summary.ID)
	if err != nil {
		return nil, err
	}

	return &Dashboard{
		Patient:           summary,
		TreatmentPlans:    nonNilPlans(plans),
		RecentSideEffects: nonNilEffects(recent),
		Stats: DashboardStats{
			UrgentSideEffects: urgent,
			ActiveTreatments:  len(plans),
		},
	}, nil
}

// PatientProfile returns the patient row linked to userID, or nil when the
// user has none.
func (s *Service) PatientProfile(ctx context.Context, userID uuid.UUID) (*Patient, error) {
	summary, err := s.patients.GetSummaryByUser(ctx, userID)
	if errors.Is(err, ErrPatientNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &summary.Patient, nil
}

// Profiles adapts PatientProfile for the /auth/me handler.
func (s *Service) Profiles() identity.ProfileFinder {
	return profileFinder{svc: s}
}

type profileFinder struct{ svc *Service }

func (f profileFinder) PatientProfile(ctx context.Context, userID uuid.UUID) (identity.Profile, error) {
	p, err := f.svc.PatientProfile(ctx, userID)
	if err != nil || p == nil {
		return nil, err
	}
	return p, nil
}

// =========== Treatment Plans ===========

func (s *Service) ListPlans(ctx context.Context, p *auth.Principal, patientID uuid.UUID) ([]*TreatmentPlan, error) {
	scope := s.scope(p, auth.ResourceTreatmentPlan, auth.ActionRead)
	if scope == auth.ScopeNone {
		return nil, ErrAccessDenied
	}
	patient, err := s.patients.GetByID(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if scope == auth.ScopeSelf && patient.UserID != p.UserID {
		return nil, ErrAccessDenied
	}
	plans, err := s.plans.ListByPatient(ctx, patientID, nil)
	if err != nil {
		return nil, err
	}
	return nonNilPlans(plans), nil
}

func checkPlanDates(errs *validate.Errors, tp *TreatmentPlan) {
	if tp.EndDate != nil && tp.StartDate.After(*tp.EndDate) {
		errs.Add("end_date", "must not be before the start date")
	}
	if tp.PlannedCycles != nil && *tp.PlannedCycles < 1 {
		errs.Add("planned_cycles", "must be at least 1")
	}
}

func (s *Service) CreatePlan(ctx context.Context, p *auth.Principal, patientID uuid.UUID, req PlanRequest) (*TreatmentPlan, error) {
	if s.scope(p, auth.ResourceTreatmentPlan, auth.ActionCreate) == auth.ScopeNone {
		return nil, ErrAccessDenied
	}

	status := strings.TrimSpace(req.Status)
	if status == "" {
		status = PlanActive
	}
	var errs validate.Errors
	errs.Required("treatment_name", req.TreatmentName)
	errs.Required("treatment_type", req.TreatmentType)
	if req.StartDate == nil {
		errs.Add("start_date", "is required")
	}
	if !validate.OneOf(status, planStatuses...) {
		errs.Add("status", "must be one of "+strings.Join(planStatuses, ", "))
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}

	if _, err := s.patients.GetByID(ctx, patientID); err != nil {
		return nil, err
	}

	creator := p.UserID
	tp := &TreatmentPlan{
		PatientID:     patientID,
		TreatmentName: strings.TrimSpace(req.TreatmentName),
		TreatmentType: strings.TrimSpace(req.TreatmentType),
		ProtocolName:  req.ProtocolName,
		StartDate:     *req.StartDate,
		EndDate:       req.EndDate,
		PlannedCycles: req.PlannedCycles,
		Status:        status,
		Notes:         req.Notes,
		CreatedBy:     &creator,
	}
	checkPlanDates(&errs, tp)
	if err := errs.Err(); err != nil {
		return nil, err
	}
	if err := s.plans.Create(ctx, tp); err != nil {
		return nil, err
	}
	return tp, nil
}

// UpdatePlan applies the non-nil fields of req to a plan of patientID. Any
// status may be set from any other.
func (s *Service) UpdatePlan(ctx context.Context, p *auth.Principal, patientID, planID uuid.UUID, req PlanUpdateRequest) (*TreatmentPlan, error) {
	if s.scope(p, auth.ResourceTreatmentPlan, auth.ActionUpdate) == auth.ScopeNone {
		return nil, ErrAccessDenied
	}
	tp, err := s.plans.GetByID(ctx, planID)
	if err != nil {
		return nil, err
	}
	if tp.PatientID != patientID {
		return nil, ErrPlanNotFound
	}

	var errs validate.Errors
	if req.TreatmentName != nil && errs.Required("treatment_name", *req.TreatmentName) {
		tp.TreatmentName = strings.TrimSpace(*req.TreatmentName)
	}
	if req.TreatmentType != nil && errs.Required("treatment_type", *req.TreatmentType) {
		tp.TreatmentType = strings.TrimSpace(*req.TreatmentType)
	}
	if req.Status != nil {
		if validate.OneOf(*req.Status, planStatuses...) {
			tp.Status = *req.Status
		} else {
			errs.Add("status", "must be one of "+strings.Join(planStatuses, ", "))
		}
	}
	if req.ProtocolName != nil {
		tp.ProtocolName = req.ProtocolName
	}
	if req.StartDate != nil {
		tp.StartDate = *req.StartDate
	}
	if req.EndDate != nil {
		tp.EndDate = req.EndDate
	}
	if req.PlannedCycles != nil {
		tp.PlannedCycles = req.PlannedCycles
	}
	if req.Notes != nil {
		tp.Notes = req.Notes
	}
	checkPlanDates(&errs, tp)
	if err := errs.Err(); err != nil {
		return nil, err
	}

	if err := s.plans.Update(ctx, tp); err != nil {
		return nil, err
	}
	return tp, nil
}

func nonNilPlans(plans []*TreatmentPlan) []*TreatmentPlan {
	if plans == nil {
		return []*TreatmentPlan{}
	}
	return plans
}

func nonNilEffects(items []*sideeffect.SideEffect) []*sideeffect.SideEffect {
	if items == nil {
		return []*sideeffect.SideEffect{}
	}
	return items
}
