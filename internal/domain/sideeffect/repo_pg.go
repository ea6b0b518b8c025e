package sideeffect

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eproms/proms/internal/domain/ctcae"
	"github.com/eproms/proms/internal/domain/identity"
	"github.com/eproms/proms/internal/platform/db"
)

// =========== Side Effect Repository ===========

type sideEffectRepoPG struct{ pool *pgxpool.Pool }

func NewSideEffectRepoPG(pool *pgxpool.Pool) Repository {
	return &sideEffectRepoPG{pool: pool}
}

func (r *sideEffectRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const seFrom = `patient_side_effects s
	JOIN ctcae_adverse_events e ON e.id = s.ctcae_event_id
	LEFT JOIN ctcae_categories c ON c.id = e.category_id
	LEFT JOIN users r ON r.id = s.reviewed_by
	JOIN patients p ON p.id = s.patient_id
	JOIN users pu ON pu.id = p.user_id`

const seCols = `s.id, s.patient_id, s.treatment_plan_id, s.ctcae_event_id, s.grade,
	s.onset_date, s.resolution_date, s.is_ongoing, s.severity_score, s.impact_on_daily_life,
	s.patient_notes, s.clinician_review_status, s.clinician_notes, s.reviewed_by, s.reviewed_at,
	s.requires_urgent_attention, s.created_at, s.updated_at,
	e.id, e.category_id, c.name, e.event_name, e.meddra_code,
	e.grade_1_description, e.grade_2_description, e.grade_3_description,
	e.grade_4_description, e.grade_5_description,
	e.patient_friendly_name, e.patient_friendly_description, e.display_order,
	e.created_at, e.updated_at,
	r.id, r.first_name, r.last_name,
	p.nhs_number, p.primary_clinician_id, pu.id, pu.first_name, pu.last_name, pu.email`

func scanSideEffect(row pgx.Row, withPatient bool) (*SideEffect, error) {
	var (
		s          SideEffect
		e          ctcae.AdverseEvent
		status     string
		reviewerID *uuid.UUID
		rFirst     *string
		rLast      *string
		ps         PatientSummary
	)
	err := row.Scan(&s.ID, &s.PatientID, &s.TreatmentPlanID, &s.CTCAEEventID, &s.Grade,
		&s.OnsetDate, &s.ResolutionDate, &s.IsOngoing, &s.SeverityScore, &s.ImpactOnDailyLife,
		&s.PatientNotes, &status, &s.ClinicianNotes, &s.ReviewedBy, &s.ReviewedAt,
		&s.RequiresUrgentAttention, &s.CreatedAt, &s.UpdatedAt,
		&e.ID, &e.CategoryID, &e.Category, &e.EventName, &e.MedDRACode,
		&e.Grade1Description, &e.Grade2Description, &e.Grade3Description,
		&e.Grade4Description, &e.Grade5Description,
		&e.PatientFriendlyName, &e.PatientFriendlyDescription, &e.DisplayOrder,
		&e.CreatedAt, &e.UpdatedAt,
		&reviewerID, &rFirst, &rLast,
		&ps.NHSNumber, &ps.PrimaryClinicianID, &ps.User.ID, &ps.User.FirstName, &ps.User.LastName, &ps.User.Email)
	if err != nil {
		return nil, err
	}
	s.ClinicianReviewStatus = ReviewStatus(status)
	s.AdverseEvent = &e
	if reviewerID != nil {
		s.Reviewer = &identity.Summary{ID: *reviewerID}
		if rFirst != nil {
			s.Reviewer.FirstName = *rFirst
		}
		if rLast != nil {
			s.Reviewer.LastName = *rLast
		}
	}
	if withPatient {
		ps.ID = s.PatientID
		s.Patient = &ps
	}
	return &s, nil
}

func (r *sideEffectRepoPG) Create(ctx context.Context, se *SideEffect) error {
	se.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient_side_effects (id, patient_id, treatment_plan_id, ctcae_event_id, grade,
			onset_date, resolution_date, is_ongoing, severity_score, impact_on_daily_life,
			patient_notes, clinician_review_status, requires_urgent_attention)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING created_at, updated_at`,
		se.ID, se.PatientID, se.TreatmentPlanID, se.CTCAEEventID, se.Grade,
		se.OnsetDate, se.ResolutionDate, se.IsOngoing, se.SeverityScore, se.ImpactOnDailyLife,
		se.PatientNotes, string(se.ClinicianReviewStatus), se.RequiresUrgentAttention).
		Scan(&se.CreatedAt, &se.UpdatedAt)
}

// GetByID locks the report row when called inside a transaction so a
// concurrent review cannot interleave with the update.
func (r *sideEffectRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*SideEffect, error) {
	sql := `SELECT ` + seCols + ` FROM ` + seFrom + ` WHERE s.id = $1`
	if db.ConnFromContext(ctx) != nil {
		sql += ` FOR UPDATE OF s`
	}
	se, err := scanSideEffect(r.conn(ctx).QueryRow(ctx, sql, id), false)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSideEffectNotFound
	}
	return se, err
}

// Update writes the mutable columns. grade, onset date and the urgent flag
// are fixed at creation.
func (r *sideEffectRepoPG) Update(ctx context.Context, se *SideEffect) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE patient_side_effects SET resolution_date=$2, is_ongoing=$3, severity_score=$4,
			impact_on_daily_life=$5, patient_notes=$6, clinician_review_status=$7,
			clinician_notes=$8, reviewed_by=$9, reviewed_at=$10, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		se.ID, se.ResolutionDate, se.IsOngoing, se.SeverityScore,
		se.ImpactOnDailyLife, se.PatientNotes, string(se.ClinicianReviewStatus),
		se.ClinicianNotes, se.ReviewedBy, se.ReviewedAt).Scan(&se.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrSideEffectNotFound
	}
	return err
}

func (r *sideEffectRepoPG) List(ctx context.Context, f Filter) ([]*SideEffect, error) {
	q := db.NewQuery(seFrom, seCols).OrderBy("s.onset_date DESC, s.created_at DESC")
	if f.PatientIDs != nil {
		q.In("s.patient_id", f.PatientIDs)
	}
	if f.ClinicianID != nil {
		q.Eq("p.primary_clinician_id", *f.ClinicianID)
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		q.In("s.clinician_review_status", statuses)
	}
	if f.UrgentOnly {
		q.Add("s.requires_urgent_attention")
	}
	if f.From != nil {
		q.Add(fmt.Sprintf("s.onset_date >= $%d", q.Idx()), *f.From)
	}
	if f.To != nil {
		q.Add(fmt.Sprintf("s.onset_date <= $%d", q.Idx()), *f.To)
	}

	sql, args := q.SelectSQL(), q.Args()
	if f.Limit > 0 {
		sql += fmt.Sprintf(" LIMIT $%d", q.Idx())
		args = append(args, f.Limit)
	}

	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*SideEffect
	for rows.Next() {
		se, err := scanSideEffect(rows, f.WithPatient)
		if err != nil {
			return nil, err
		}
		items = append(items, se)
	}
	return items, rows.Err()
}

func (r *sideEffectRepoPG) CountOpenUrgent(ctx context.Context, patientID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM patient_side_effects
		WHERE patient_id = $1 AND requires_urgent_attention
			AND clinician_review_status IN ('pending', 'action_required')`, patientID).Scan(&n)
	return n, err
}

// =========== Patient Directory ===========

type patientDirectoryPG struct{ pool *pgxpool.Pool }

func NewPatientDirectoryPG(pool *pgxpool.Pool) PatientDirectory {
	return &patientDirectoryPG{pool: pool}
}

func (r *patientDirectoryPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func (r *patientDirectoryPG) scanRef(row pgx.Row, notFound error) (*PatientRef, error) {
	var p PatientRef
	err := row.Scan(&p.ID, &p.UserID, &p.PrimaryClinicianID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *patientDirectoryPG) PatientForUser(ctx context.Context, userID uuid.UUID) (*PatientRef, error) {
	return r.scanRef(r.conn(ctx).QueryRow(ctx,
		`SELECT id, user_id, primary_clinician_id FROM patients WHERE user_id = $1`, userID), ErrProfileNotFound)
}

func (r *patientDirectoryPG) PatientByID(ctx context.Context, id uuid.UUID) (*PatientRef, error) {
	return r.scanRef(r.conn(ctx).QueryRow(ctx,
		`SELECT id, user_id, primary_clinician_id FROM patients WHERE id = $1`, id), ErrPatientNotFound)
}

func (r *patientDirectoryPG) PlanBelongsTo(ctx context.Context, planID, patientID uuid.UUID) (bool, error) {
	var ok bool
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM treatment_plans WHERE id = $1 AND patient_id = $2)`, planID, patientID).Scan(&ok)
	return ok, err
}
