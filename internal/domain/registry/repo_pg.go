package registry

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eproms/proms/internal/domain/identity"
	"github.com/eproms/proms/internal/platform/db"
)

// =========== Patient Repository ===========

type patientRepoPG struct{ pool *pgxpool.Pool }

func NewPatientRepoPG(pool *pgxpool.Pool) PatientRepository {
	return &patientRepoPG{pool: pool}
}

func (r *patientRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const patientCols = `id, user_id, nhs_number, date_of_birth, gender, cancer_type, cancer_stage,
	diagnosis_date, primary_clinician_id, hospital_number, contact_preference,
	emergency_contact_name, emergency_contact_phone, created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.UserID, &p.NHSNumber, &p.DateOfBirth, &p.Gender, &p.CancerType, &p.CancerStage,
		&p.DiagnosisDate, &p.PrimaryClinicianID, &p.HospitalNumber, &p.ContactPreference,
		&p.EmergencyContactName, &p.EmergencyContactPhone, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPatientNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

const summaryFrom = `patients p
	JOIN users u ON u.id = p.user_id
	LEFT JOIN users c ON c.id = p.primary_clinician_id`

const summaryCols = `p.id, p.user_id, p.nhs_number, p.date_of_birth, p.gender, p.cancer_type, p.cancer_stage,
	p.diagnosis_date, p.primary_clinician_id, p.hospital_number, p.contact_preference,
	p.emergency_contact_name, p.emergency_contact_phone, p.created_at, p.updated_at,
	u.id, u.first_name, u.last_name, u.email, u.phone_number, u.last_login,
	c.id, c.first_name, c.last_name, c.email`

func scanSummary(row pgx.Row) (*PatientSummary, error) {
	var (
		s      PatientSummary
		cID    *uuid.UUID
		cFirst *string
		cLast  *string
		cEmail *string
	)
	p := &s.Patient
	err := row.Scan(&p.ID, &p.UserID, &p.NHSNumber, &p.DateOfBirth, &p.Gender, &p.CancerType, &p.CancerStage,
		&p.DiagnosisDate, &p.PrimaryClinicianID, &p.HospitalNumber, &p.ContactPreference,
		&p.EmergencyContactName, &p.EmergencyContactPhone, &p.CreatedAt, &p.UpdatedAt,
		&s.User.ID, &s.User.FirstName, &s.User.LastName, &s.User.Email, &s.User.PhoneNumber, &s.User.LastLogin,
		&cID, &cFirst, &cLast, &cEmail)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPatientNotFound
	}
	if err != nil {
		return nil, err
	}
	if cID != nil {
		s.PrimaryClinician = &identity.Summary{ID: *cID, Email: cEmail}
		if cFirst != nil {
			s.PrimaryClinician.FirstName = *cFirst
		}
		if cLast != nil {
			s.PrimaryClinician.LastName = *cLast
		}
	}
	return &s, nil
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patients (id, user_id, nhs_number, date_of_birth, gender, cancer_type, cancer_stage,
			diagnosis_date, primary_clinician_id, hospital_number, contact_preference,
			emergency_contact_name, emergency_contact_phone)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING created_at, updated_at`,
		p.ID, p.UserID, p.NHSNumber, p.DateOfBirth, p.Gender, p.CancerType, p.CancerStage,
		p.DiagnosisDate, p.PrimaryClinicianID, p.HospitalNumber, p.ContactPreference,
		p.EmergencyContactName, p.EmergencyContactPhone).Scan(&p.CreatedAt, &p.UpdatedAt)
	switch {
	case db.IsUniqueViolation(err, "patients_nhs_number_key"):
		return ErrNHSNumberTaken
	case db.IsUniqueViolation(err, "patients_user_id_key"):
		return ErrProfileExists
	}
	return err
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patients WHERE id = $1`, id))
}

func (r *patientRepoPG) Update(ctx context.Context, p *Patient) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE patients SET date_of_birth=$2, gender=$3, cancer_type=$4, cancer_stage=$5,
			diagnosis_date=$6, primary_clinician_id=$7, hospital_number=$8, contact_preference=$9,
			emergency_contact_name=$10, emergency_contact_phone=$11, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		p.ID, p.DateOfBirth, p.Gender, p.CancerType, p.CancerStage,
		p.DiagnosisDate, p.PrimaryClinicianID, p.HospitalNumber, p.ContactPreference,
		p.EmergencyContactName, p.EmergencyContactPhone).Scan(&p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrPatientNotFound
	}
	return err
}

func (r *patientRepoPG) NHSNumberExists(ctx context.Context, nhsNumber string) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM patients WHERE nhs_number = $1)`, nhsNumber).Scan(&exists)
	return exists, err
}

func (r *patientRepoPG) GetSummary(ctx context.Context, id uuid.UUID) (*PatientSummary, error) {
	return scanSummary(r.conn(ctx).QueryRow(ctx, `SELECT `+summaryCols+` FROM `+summaryFrom+` WHERE p.id = $1`, id))
}

func (r *patientRepoPG) GetSummaryByUser(ctx context.Context, userID uuid.UUID) (*PatientSummary, error) {
	return scanSummary(r.conn(ctx).QueryRow(ctx, `SELECT `+summaryCols+` FROM `+summaryFrom+` WHERE p.user_id = $1`, userID))
}

func (r *patientRepoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*PatientSummary, int, error) {
	q := db.NewQuery(summaryFrom, summaryCols).
		Contains(f.Search, "u.first_name", "u.last_name", "u.email").
		Contains(f.CancerType, "p.cancer_type").
		OrderBy("p.created_at DESC")

	var total int
	if err := r.conn(ctx).QueryRow(ctx, q.CountSQL(), q.Args()...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, q.DataSQL(), q.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*PatientSummary
	for rows.Next() {
		s, err := scanSummary(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, s)
	}
	return items, total, rows.Err()
}

// =========== Treatment Plan Repository ===========

type treatmentPlanRepoPG struct{ pool *pgxpool.Pool }

func NewTreatmentPlanRepoPG(pool *pgxpool.Pool) TreatmentPlanRepository {
	return &treatmentPlanRepoPG{pool: pool}
}

func (r *treatmentPlanRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const planCols = `id, patient_id, treatment_name, treatment_type, protocol_name, start_date, end_date,
	planned_cycles, status, notes, created_by, created_at, updated_at`

func scanPlan(row pgx.Row) (*TreatmentPlan, error) {
	var tp TreatmentPlan
	err := row.Scan(&tp.ID, &tp.PatientID, &tp.TreatmentName, &tp.TreatmentType, &tp.ProtocolName, &tp.StartDate, &tp.EndDate,
		&tp.PlannedCycles, &tp.Status, &tp.Notes, &tp.CreatedBy, &tp.CreatedAt, &tp.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPlanNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tp, nil
}

func (r *treatmentPlanRepoPG) queryPlans(ctx context.Context, sql string, args ...interface{}) ([]*TreatmentPlan, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*TreatmentPlan
	for rows.Next() {
		tp, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, tp)
	}
	return items, rows.Err()
}

func (r *treatmentPlanRepoPG) Create(ctx context.Context, tp *TreatmentPlan) error {
	tp.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO treatment_plans (id, patient_id, treatment_name, treatment_type, protocol_name,
			start_date, end_date, planned_cycles, status, notes, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at, updated_at`,
		tp.ID, tp.PatientID, tp.TreatmentName, tp.TreatmentType, tp.ProtocolName,
		tp.StartDate, tp.EndDate, tp.PlannedCycles, tp.Status, tp.Notes, tp.CreatedBy).
		Scan(&tp.CreatedAt, &tp.UpdatedAt)
}

func (r *treatmentPlanRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*TreatmentPlan, error) {
	return scanPlan(r.conn(ctx).QueryRow(ctx, `SELECT `+planCols+` FROM treatment_plans WHERE id = $1`, id))
}

func (r *treatmentPlanRepoPG) Update(ctx context.Context, tp *TreatmentPlan) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE treatment_plans SET treatment_name=$2, treatment_type=$3, protocol_name=$4,
			start_date=$5, end_date=$6, planned_cycles=$7, status=$8, notes=$9, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		tp.ID, tp.TreatmentName, tp.TreatmentType, tp.ProtocolName,
		tp.StartDate, tp.EndDate, tp.PlannedCycles, tp.Status, tp.Notes).Scan(&tp.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrPlanNotFound
	}
	return err
}

func (r *treatmentPlanRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, statuses []string) ([]*TreatmentPlan, error) {
	q := db.NewQuery("treatment_plans", planCols).
		Eq("patient_id", patientID).
		OrderBy("start_date DESC, created_at DESC")
	if len(statuses) > 0 {
		q.In("status", statuses)
	}
	return r.queryPlans(ctx, q.SelectSQL(), q.Args()...)
}

func (r *treatmentPlanRepoPG) LatestByPatients(ctx context.Context, patientIDs []uuid.UUID) (map[uuid.UUID]*TreatmentPlan, error) {
	out := make(map[uuid.UUID]*TreatmentPlan, len(patientIDs))
	if len(patientIDs) == 0 {
		return out, nil
	}
	plans, err := r.queryPlans(ctx, `
		SELECT DISTINCT ON (patient_id) `+planCols+`
		FROM treatment_plans
		WHERE patient_id = ANY($1)
		ORDER BY patient_id, created_at DESC`, patientIDs)
	if err != nil {
		return nil, err
	}
	for _, tp := range plans {
		out[tp.PatientID] = tp
	}
	return out, nil
}
