package sideeffect

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eproms/proms/internal/domain/ctcae"
	"github.com/eproms/proms/internal/platform/auth"
	"github.com/eproms/proms/internal/platform/events"
	"github.com/eproms/proms/pkg/civil"
	"github.com/eproms/proms/pkg/validate"
)

// -- Mocks --

type mockDirectory struct {
	patients map[uuid.UUID]*PatientRef
	plans    map[uuid.UUID]uuid.UUID // plan id -> patient id
}

func newMockDirectory() *mockDirectory {
	return &mockDirectory{patients: make(map[uuid.UUID]*PatientRef), plans: make(map[uuid.UUID]uuid.UUID)}
}

func (m *mockDirectory) PatientForUser(_ context.Context, userID uuid.UUID) (*PatientRef, error) {
	for _, p := range m.patients {
		if p.UserID == userID {
			return p, nil
		}
	}
	return nil, ErrProfileNotFound
}

func (m *mockDirectory) PatientByID(_ context.Context, id uuid.UUID) (*PatientRef, error) {
	p, ok := m.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return p, nil
}

func (m *mockDirectory) PlanBelongsTo(_ context.Context, planID, patientID uuid.UUID) (bool, error) {
	owner, ok := m.plans[planID]
	return ok && owner == patientID, nil
}

type mockRepo struct {
	records map[uuid.UUID]*SideEffect
	dir     *mockDirectory
}

func newMockRepo(dir *mockDirectory) *mockRepo {
	return &mockRepo{records: make(map[uuid.UUID]*SideEffect), dir: dir}
}

func (m *mockRepo) Create(_ context.Context, se *SideEffect) error {
	se.ID = uuid.New()
	se.CreatedAt = time.Now()
	se.UpdatedAt = se.CreatedAt
	m.records[se.ID] = se
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*SideEffect, error) {
	se, ok := m.records[id]
	if !ok {
		return nil, ErrSideEffectNotFound
	}
	return se, nil
}

func (m *mockRepo) Update(_ context.Context, se *SideEffect) error {
	if _, ok := m.records[se.ID]; !ok {
		return ErrSideEffectNotFound
	}
	se.UpdatedAt = time.Now()
	m.records[se.ID] = se
	return nil
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func (m *mockRepo) List(_ context.Context, f Filter) ([]*SideEffect, error) {
	var result []*SideEffect
	for _, se := range m.records {
		if f.PatientIDs != nil && !containsID(f.PatientIDs, se.PatientID) {
			continue
		}
		if f.ClinicianID != nil {
			p := m.dir.patients[se.PatientID]
			if p == nil || !p.InCareOf(*f.ClinicianID) {
				continue
			}
		}
		if len(f.Statuses) > 0 {
			match := false
			for _, st := range f.Statuses {
				match = match || st == se.ClinicianReviewStatus
			}
			if !match {
				continue
			}
		}
		if f.UrgentOnly && !se.RequiresUrgentAttention {
			continue
		}
		if f.From != nil && f.From.After(se.OnsetDate) {
			continue
		}
		if f.To != nil && se.OnsetDate.After(*f.To) {
			continue
		}
		result = append(result, se)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].OnsetDate.After(result[j].OnsetDate) })
	if f.Limit > 0 && len(result) > f.Limit {
		result = result[:f.Limit]
	}
	return result, nil
}

func (m *mockRepo) CountOpenUrgent(_ context.Context, patientID uuid.UUID) (int, error) {
	n := 0
	for _, se := range m.records {
		if se.PatientID == patientID && se.RequiresUrgentAttention && se.ClinicianReviewStatus.Open() {
			n++
		}
	}
	return n, nil
}

type mockCatalog map[uuid.UUID]*ctcae.AdverseEvent

func (m mockCatalog) GetEvent(_ context.Context, id uuid.UUID) (*ctcae.AdverseEvent, error) {
	e, ok := m[id]
	if !ok {
		return nil, ctcae.ErrEventNotFound
	}
	return e, nil
}

type mockPublisher struct {
	published []events.UrgentSideEffect
	err       error
}

func (m *mockPublisher) PublishUrgent(_ context.Context, evt events.UrgentSideEffect) error {
	m.published = append(m.published, evt)
	return m.err
}

func (m *mockPublisher) Close() error { return nil }

// -- Fixture --

type fixture struct {
	svc       *Service
	repo      *mockRepo
	dir       *mockDirectory
	alerts    *mockPublisher
	nausea    *ctcae.AdverseEvent
	clinician *auth.Principal
	other     *auth.Principal
	admin     *auth.Principal
}

func newFixture() *fixture {
	dir := newMockDirectory()
	repo := newMockRepo(dir)
	nausea := &ctcae.AdverseEvent{ID: uuid.New(), EventName: "Nausea"}
	alerts := &mockPublisher{}
	svc := NewService(repo, dir, mockCatalog{nausea.ID: nausea}, auth.DefaultPolicy(), alerts, zerolog.Nop())
	return &fixture{
		svc:       svc,
		repo:      repo,
		dir:       dir,
		alerts:    alerts,
		nausea:    nausea,
		clinician: &auth.Principal{UserID: uuid.New(), Role: auth.RoleClinician},
		other:     &auth.Principal{UserID: uuid.New(), Role: auth.RoleClinician},
		admin:     &auth.Principal{UserID: uuid.New(), Role: auth.RoleAdmin},
	}
}

// addPatient registers a patient in care of clinician and returns its
// principal and ref.
func (f *fixture) addPatient(clinician *auth.Principal) (*auth.Principal, *PatientRef) {
	ref := &PatientRef{ID: uuid.New(), UserID: uuid.New(), PrimaryClinicianID: &clinician.UserID}
	f.dir.patients[ref.ID] = ref
	return &auth.Principal{UserID: ref.UserID, Role: auth.RolePatient}, ref
}

func (f *fixture) report(t *testing.T, p *auth.Principal, grade int, onset civil.Date) *SideEffect {
	t.Helper()
	se, err := f.svc.Report(context.Background(), p, ReportRequest{
		CTCAEEventID: f.nausea.ID,
		Grade:        grade,
		OnsetDate:    &onset,
	})
	if err != nil {
		t.Fatalf("report grade %d: %v", grade, err)
	}
	return se
}

func ptr[T any](v T) *T { return &v }

// -- Tests --

func TestTriage(t *testing.T) {
	tests := []struct {
		grade  int
		urgent bool
		status ReviewStatus
	}{
		{1, false, StatusPending},
		{2, false, StatusPending},
		{3, true, StatusActionRequired},
		{4, true, StatusActionRequired},
		{5, true, StatusActionRequired},
	}
	for _, tt := range tests {
		urgent, status := Triage(tt.grade)
		if urgent != tt.urgent || status != tt.status {
			t.Errorf("Triage(%d) = (%v, %s), want (%v, %s)", tt.grade, urgent, status, tt.urgent, tt.status)
		}
	}
}

func TestReviewStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to ReviewStatus
		want     bool
	}{
		{StatusPending, StatusReviewed, true},
		{StatusPending, StatusActionRequired, true},
		{StatusPending, StatusResolved, true},
		{StatusActionRequired, StatusReviewed, true},
		{StatusActionRequired, StatusResolved, true},
		{StatusActionRequired, StatusPending, false},
		{StatusReviewed, StatusPending, false},
		{StatusReviewed, StatusActionRequired, false},
		{StatusResolved, StatusActionRequired, false},
		{StatusResolved, StatusResolved, true},
		{StatusReviewed, StatusReviewed, true},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestService_Report_DerivesUrgencyFromGrade(t *testing.T) {
	for grade := 1; grade <= 5; grade++ {
		f := newFixture()
		patient, ref := f.addPatient(f.clinician)
		se := f.report(t, patient, grade, civil.NewDate(2026, 3, 1))

		wantUrgent, wantStatus := grade >= 3, StatusPending
		if wantUrgent {
			wantStatus = StatusActionRequired
		}
		if se.RequiresUrgentAttention != wantUrgent || se.ClinicianReviewStatus != wantStatus {
			t.Errorf("grade %d: got urgent=%v status=%s", grade, se.RequiresUrgentAttention, se.ClinicianReviewStatus)
		}
		if !se.IsOngoing {
			t.Errorf("grade %d: expected is_ongoing", grade)
		}
		if se.PatientID != ref.ID {
			t.Errorf("grade %d: expected report on caller's profile", grade)
		}
		if se.AdverseEvent == nil || se.AdverseEvent.EventName != "Nausea" {
			t.Errorf("grade %d: expected catalog entry embedded", grade)
		}

		wantAlerts := 0
		if wantUrgent {
			wantAlerts = 1
		}
		if len(f.alerts.published) != wantAlerts {
			t.Errorf("grade %d: expected %d alerts, got %d", grade, wantAlerts, len(f.alerts.published))
		}
	}
}

func TestService_Report_AlertCarriesClinician(t *testing.T) {
	f := newFixture()
	patient, ref := f.addPatient(f.clinician)
	se := f.report(t, patient, 4, civil.NewDate(2026, 3, 1))

	evt := f.alerts.published[0]
	if evt.SideEffectID != se.ID || evt.PatientID != ref.ID {
		t.Errorf("alert does not match report: %+v", evt)
	}
	if evt.PrimaryClinicianID == nil || *evt.PrimaryClinicianID != f.clinician.UserID {
		t.Error("expected primary clinician on alert")
	}
	if evt.Grade != 4 || evt.OnsetDate != "2026-03-01" || evt.EventName != "Nausea" {
		t.Errorf("unexpected alert payload %+v", evt)
	}
}

func TestService_Report_PublishFailureDoesNotFail(t *testing.T) {
	f := newFixture()
	f.alerts.err = errors.New("broker down")
	patient, _ := f.addPatient(f.clinician)

	onset := civil.NewDate(2026, 3, 1)
	se, err := f.svc.Report(context.Background(), patient, ReportRequest{CTCAEEventID: f.nausea.ID, Grade: 5, OnsetDate: &onset})
	if err != nil {
		t.Fatalf("expected report to succeed, got %v", err)
	}
	if _, ok := f.repo.records[se.ID]; !ok {
		t.Error("expected report to be stored")
	}
}

func TestService_Report_Errors(t *testing.T) {
	f := newFixture()
	patient, _ := f.addPatient(f.clinician)
	_, otherRef := f.addPatient(f.clinician)
	planID := uuid.New()
	f.dir.plans[planID] = otherRef.ID
	onset := civil.NewDate(2026, 3, 1)
	ctx := context.Background()

	if _, err := f.svc.Report(ctx, f.clinician, ReportRequest{CTCAEEventID: f.nausea.ID, Grade: 1, OnsetDate: &onset}); !errors.Is(err, ErrAccessDenied) {
		t.Errorf("expected clinician to be denied, got %v", err)
	}

	orphan := &auth.Principal{UserID: uuid.New(), Role: auth.RolePatient}
	if _, err := f.svc.Report(ctx, orphan, ReportRequest{CTCAEEventID: f.nausea.ID, Grade: 1, OnsetDate: &onset}); !errors.Is(err, ErrProfileNotFound) {
		t.Errorf("expected ErrProfileNotFound, got %v", err)
	}

	if _, err := f.svc.Report(ctx, patient, ReportRequest{CTCAEEventID: uuid.New(), Grade: 1, OnsetDate: &onset}); !errors.Is(err, ctcae.ErrEventNotFound) {
		t.Errorf("expected ErrEventNotFound, got %v", err)
	}

	invalid := []ReportRequest{
		{CTCAEEventID: f.nausea.ID, Grade: 0, OnsetDate: &onset},
		{CTCAEEventID: f.nausea.ID, Grade: 6, OnsetDate: &onset},
		{CTCAEEventID: f.nausea.ID, Grade: 2},
		{CTCAEEventID: f.nausea.ID, Grade: 2, OnsetDate: &onset, SeverityScore: ptr(11)},
		{CTCAEEventID: f.nausea.ID, Grade: 2, OnsetDate: &onset, ImpactOnDailyLife: ptr("unbearable")},
		{CTCAEEventID: f.nausea.ID, Grade: 2, OnsetDate: &onset, TreatmentPlanID: &planID},
	}
	for i, req := range invalid {
		if _, err := f.svc.Report(ctx, patient, req); err == nil {
			t.Errorf("case %d: expected validation error", i)
		} else if _, ok := validate.As(err); !ok {
			t.Errorf("case %d: expected validation error, got %v", i, err)
		}
	}
	if len(f.repo.records) != 0 {
		t.Errorf("expected nothing stored, got %d", len(f.repo.records))
	}
}

func TestService_List_PatientForcedOntoOwnRecord(t *testing.T) {
	f := newFixture()
	alice, aliceRef := f.addPatient(f.clinician)
	bob, bobRef := f.addPatient(f.clinician)
	f.report(t, alice, 1, civil.NewDate(2026, 3, 1))
	f.report(t, bob, 2, civil.NewDate(2026, 3, 2))

	items, err := f.svc.List(context.Background(), alice, ListQuery{PatientID: &bobRef.ID})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 1 || items[0].PatientID != aliceRef.ID {
		t.Errorf("expected only alice's report, got %d items", len(items))
	}
}

func TestService_List_ClinicianCareTeam(t *testing.T) {
	f := newFixture()
	mine, mineRef := f.addPatient(f.clinician)
	theirs, theirsRef := f.addPatient(f.other)
	f.report(t, mine, 1, civil.NewDate(2026, 3, 1))
	f.report(t, mine, 2, civil.NewDate(2026, 3, 5))
	f.report(t, theirs, 2, civil.NewDate(2026, 3, 2))
	ctx := context.Background()

	items, err := f.svc.List(ctx, f.clinician, ListQuery{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 reports for own patients, got %d", len(items))
	}
	if items[0].OnsetDate.String() != "2026-03-05" {
		t.Errorf("expected newest onset first, got %s", items[0].OnsetDate)
	}
	for _, se := range items {
		if se.PatientID != mineRef.ID {
			t.Error("clinician saw a patient outside their care")
		}
	}

	if _, err := f.svc.List(ctx, f.clinician, ListQuery{PatientID: &theirsRef.ID}); !errors.Is(err, ErrAccessDenied) {
		t.Errorf("expected ErrAccessDenied for patient outside care, got %v", err)
	}

	all, err := f.svc.List(ctx, f.admin, ListQuery{})
	if err != nil {
		t.Fatalf("admin list: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected admin to see 3 reports, got %d", len(all))
	}
}

func TestService_List_Filters(t *testing.T) {
	f := newFixture()
	patient, _ := f.addPatient(f.clinician)
	f.report(t, patient, 1, civil.NewDate(2026, 1, 10))
	f.report(t, patient, 3, civil.NewDate(2026, 2, 10))
	f.report(t, patient, 2, civil.NewDate(2026, 3, 10))
	ctx := context.Background()

	urgent, _ := f.svc.List(ctx, patient, ListQuery{UrgentOnly: true})
	if len(urgent) != 1 || urgent[0].Grade != 3 {
		t.Errorf("expected the grade 3 report, got %d items", len(urgent))
	}

	from, to := civil.NewDate(2026, 2, 1), civil.NewDate(2026, 2, 28)
	ranged, _ := f.svc.List(ctx, patient, ListQuery{From: &from, To: &to})
	if len(ranged) != 1 || ranged[0].OnsetDate != civil.NewDate(2026, 2, 10) {
		t.Errorf("expected the February report, got %d items", len(ranged))
	}

	pending := StatusPending
	byStatus, _ := f.svc.List(ctx, patient, ListQuery{Status: &pending})
	if len(byStatus) != 2 {
		t.Errorf("expected 2 pending reports, got %d", len(byStatus))
	}

	bogus := ReviewStatus("closed")
	if _, err := f.svc.List(ctx, patient, ListQuery{Status: &bogus}); err == nil {
		t.Error("expected unknown status to be rejected")
	}
}

func TestService_Update_PatientDropsDisallowedFields(t *testing.T) {
	f := newFixture()
	patient, _ := f.addPatient(f.clinician)
	se := f.report(t, patient, 2, civil.NewDate(2026, 3, 1))

	resolved := civil.NewDate(2026, 3, 4)
	updated, err := f.svc.Update(context.Background(), patient, se.ID, UpdateRequest{
		ResolutionDate:        &resolved,
		IsOngoing:             ptr(false),
		SeverityScore:         ptr(3),
		ImpactOnDailyLife:     ptr("mild"),
		PatientNotes:          ptr("Better after anti-sickness tablets"),
		ClinicianReviewStatus: ptr(StatusResolved),
		ClinicianNotes:        ptr("self-review"),
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	if updated.IsOngoing || updated.ResolutionDate == nil || *updated.SeverityScore != 3 ||
		*updated.ImpactOnDailyLife != "mild" || *updated.PatientNotes != "Better after anti-sickness tablets" {
		t.Errorf("expected patient fields applied, got %+v", updated)
	}
	if updated.ClinicianReviewStatus != StatusPending {
		t.Errorf("expected review status unchanged, got %s", updated.ClinicianReviewStatus)
	}
	if updated.ClinicianNotes != nil || updated.ReviewedBy != nil || updated.ReviewedAt != nil {
		t.Error("expected clinician fields to be dropped")
	}
}

func TestService_Update_PatientCannotTouchOthersReports(t *testing.T) {
	f := newFixture()
	alice, _ := f.addPatient(f.clinician)
	bob, _ := f.addPatient(f.clinician)
	se := f.report(t, bob, 2, civil.NewDate(2026, 3, 1))

	_, err := f.svc.Update(context.Background(), alice, se.ID, UpdateRequest{PatientNotes: ptr("not mine")})
	if !errors.Is(err, ErrAccessDenied) {
		t.Errorf("expected ErrAccessDenied, got %v", err)
	}
	if se.PatientNotes != nil {
		t.Error("report must not change")
	}
}

func TestService_Update_ClinicianReviewStampsReviewer(t *testing.T) {
	f := newFixture()
	patient, _ := f.addPatient(f.clinician)
	se := f.report(t, patient, 3, civil.NewDate(2026, 3, 1))
	stamp := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return stamp }

	updated, err := f.svc.Update(context.Background(), f.clinician, se.ID, UpdateRequest{
		ClinicianReviewStatus: ptr(StatusReviewed),
		ClinicianNotes:        ptr("Phoned patient, antiemetics adjusted"),
		PatientNotes:          ptr("clinicians cannot write this"),
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.ClinicianReviewStatus != StatusReviewed {
		t.Errorf("expected reviewed, got %s", updated.ClinicianReviewStatus)
	}
	if updated.ReviewedBy == nil || *updated.ReviewedBy != f.clinician.UserID {
		t.Error("expected reviewed_by to be the clinician")
	}
	if updated.ReviewedAt == nil || !updated.ReviewedAt.Equal(stamp) {
		t.Errorf("expected reviewed_at %s, got %v", stamp, updated.ReviewedAt)
	}
	if updated.PatientNotes != nil {
		t.Error("expected patient notes to be dropped for clinicians")
	}
	if !updated.RequiresUrgentAttention || updated.Grade != 3 {
		t.Error("urgency and grade must not change on review")
	}
}

func TestService_Update_ReviewTransitions(t *testing.T) {
	f := newFixture()
	patient, _ := f.addPatient(f.clinician)
	se := f.report(t, patient, 1, civil.NewDate(2026, 3, 1))
	ctx := context.Background()

	if _, err := f.svc.Update(ctx, f.admin, se.ID, UpdateRequest{ClinicianReviewStatus: ptr(StatusResolved)}); err != nil {
		t.Fatalf("pending -> resolved: %v", err)
	}
	_, err := f.svc.Update(ctx, f.admin, se.ID, UpdateRequest{ClinicianReviewStatus: ptr(StatusActionRequired)})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
	if _, err := f.svc.Update(ctx, f.admin, se.ID, UpdateRequest{ClinicianReviewStatus: ptr(StatusResolved), ClinicianNotes: ptr("closed")}); err != nil {
		t.Errorf("expected re-submitting the same status to succeed, got %v", err)
	}
	if _, err := f.svc.Update(ctx, f.admin, se.ID, UpdateRequest{ClinicianReviewStatus: ptr(ReviewStatus("archived"))}); err == nil {
		t.Error("expected unknown status to be rejected")
	}
}

func TestService_Update_ClinicianOutsideCare(t *testing.T) {
	f := newFixture()
	patient, _ := f.addPatient(f.clinician)
	se := f.report(t, patient, 2, civil.NewDate(2026, 3, 1))

	_, err := f.svc.Update(context.Background(), f.other, se.ID, UpdateRequest{ClinicianReviewStatus: ptr(StatusReviewed)})
	if !errors.Is(err, ErrAccessDenied) {
		t.Errorf("expected ErrAccessDenied, got %v", err)
	}
}

func TestService_Update_NotFound(t *testing.T) {
	f := newFixture()
	if _, err := f.svc.Update(context.Background(), f.admin, uuid.New(), UpdateRequest{}); !errors.Is(err, ErrSideEffectNotFound) {
		t.Errorf("expected ErrSideEffectNotFound, got %v", err)
	}
}

func TestService_Urgent(t *testing.T) {
	f := newFixture()
	mine, mineRef := f.addPatient(f.clinician)
	theirs, _ := f.addPatient(f.other)
	grade4 := f.report(t, mine, 4, civil.NewDate(2026, 3, 3))
	f.report(t, mine, 2, civil.NewDate(2026, 3, 4))
	resolved := f.report(t, mine, 3, civil.NewDate(2026, 3, 1))
	f.report(t, theirs, 5, civil.NewDate(2026, 3, 2))
	ctx := context.Background()

	if _, err := f.svc.Update(ctx, f.clinician, resolved.ID, UpdateRequest{ClinicianReviewStatus: ptr(StatusResolved)}); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	items, err := f.svc.Urgent(ctx, f.clinician)
	if err != nil {
		t.Fatalf("urgent: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 urgent report, got %d", len(items))
	}
	if items[0].ID != grade4.ID || items[0].PatientID != mineRef.ID {
		t.Errorf("expected the grade 4 report, got %+v", items[0])
	}

	all, _ := f.svc.Urgent(ctx, f.admin)
	if len(all) != 2 {
		t.Errorf("expected admin to see 2 urgent reports, got %d", len(all))
	}

	if _, err := f.svc.Urgent(ctx, mine); !errors.Is(err, ErrAccessDenied) {
		t.Errorf("expected patients to be denied, got %v", err)
	}
}

func TestService_LaterEscalationLeavesEarlierReports(t *testing.T) {
	f := newFixture()
	patient, _ := f.addPatient(f.clinician)
	mild := f.report(t, patient, 2, civil.NewDate(2026, 3, 1))
	f.report(t, patient, 4, civil.NewDate(2026, 3, 3))

	if mild.RequiresUrgentAttention || mild.ClinicianReviewStatus != StatusPending {
		t.Error("earlier report must keep its original triage")
	}
}

type txMarker struct{}

// txRepo fails any call made outside the transaction started by txRunner.
type txRepo struct {
	Repository
	calls int
}

func (r *txRepo) inTx(ctx context.Context) error {
	r.calls++
	if ctx.Value(txMarker{}) == nil {
		return errors.New("called outside transaction")
	}
	return nil
}

func (r *txRepo) GetByID(ctx context.Context, id uuid.UUID) (*SideEffect, error) {
	if err := r.inTx(ctx); err != nil {
		return nil, err
	}
	return r.Repository.GetByID(ctx, id)
}

func (r *txRepo) Update(ctx context.Context, se *SideEffect) error {
	if err := r.inTx(ctx); err != nil {
		return err
	}
	return r.Repository.Update(ctx, se)
}

func txRunner(runs *int) func(context.Context, func(context.Context) error) error {
	return func(ctx context.Context, fn func(context.Context) error) error {
		*runs++
		return fn(context.WithValue(ctx, txMarker{}, true))
	}
}

func TestService_Update_ReadsAndWritesInOneTransaction(t *testing.T) {
	f := newFixture()
	patient, _ := f.addPatient(f.clinician)
	se := f.report(t, patient, 3, civil.NewDate(2026, 3, 1))

	repo := &txRepo{Repository: f.repo}
	runs := 0
	f.svc.reports = repo
	f.svc.UseTx(txRunner(&runs))

	if _, err := f.svc.Update(context.Background(), f.clinician, se.ID, UpdateRequest{ClinicianReviewStatus: ptr(StatusReviewed)}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if runs != 1 {
		t.Errorf("expected one transaction, got %d", runs)
	}
	if repo.calls != 3 {
		t.Errorf("expected get, update and reload inside the transaction, got %d calls", repo.calls)
	}
}

func TestService_Update_TransactionFailure(t *testing.T) {
	f := newFixture()
	patient, _ := f.addPatient(f.clinician)
	se := f.report(t, patient, 2, civil.NewDate(2026, 3, 1))

	begin := errors.New("begin transaction: connection refused")
	f.svc.UseTx(func(context.Context, func(context.Context) error) error { return begin })

	_, err := f.svc.Update(context.Background(), patient, se.ID, UpdateRequest{PatientNotes: ptr("worse today")})
	if !errors.Is(err, begin) {
		t.Fatalf("expected transaction error, got %v", err)
	}
	if se.PatientNotes != nil {
		t.Error("report must not change")
	}
}

func TestService_NotesAreCleaned(t *testing.T) {
	f := newFixture()
	patient, _ := f.addPatient(f.clinician)
	onset := civil.NewDate(2026, 3, 1)

	se, err := f.svc.Report(context.Background(), patient, ReportRequest{
		CTCAEEventID: f.nausea.ID,
		Grade:        2,
		OnsetDate:    &onset,
		PatientNotes: ptr("  sick after\x00 dinner\x07 "),
	})
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if *se.PatientNotes != "sick after dinner" {
		t.Errorf("expected cleaned patient notes, got %q", *se.PatientNotes)
	}

	updated, err := f.svc.Update(context.Background(), f.clinician, se.ID, UpdateRequest{
		ClinicianNotes: ptr("call back\x1b tomorrow\n"),
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if *updated.ClinicianNotes != "call back tomorrow" {
		t.Errorf("expected cleaned clinician notes, got %q", *updated.ClinicianNotes)
	}
}
