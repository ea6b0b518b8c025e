package ctcae

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eproms/proms/internal/platform/db"
)

type adverseEventRepoPG struct{ pool *pgxpool.Pool }

func NewAdverseEventRepoPG(pool *pgxpool.Pool) AdverseEventRepository {
	return &adverseEventRepoPG{pool: pool}
}

func (r *adverseEventRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const eventFrom = `ctcae_adverse_events e LEFT JOIN ctcae_categories c ON c.id = e.category_id`

const eventCols = `e.id, e.category_id, c.name, e.event_name, e.meddra_code,
	e.grade_1_description, e.grade_2_description, e.grade_3_description,
	e.grade_4_description, e.grade_5_description,
	e.patient_friendly_name, e.patient_friendly_description, e.display_order,
	e.created_at, e.updated_at`

func scanEvent(row pgx.Row) (*AdverseEvent, error) {
	var e AdverseEvent
	err := row.Scan(&e.ID, &e.CategoryID, &e.Category, &e.EventName, &e.MedDRACode,
		&e.Grade1Description, &e.Grade2Description, &e.Grade3Description,
		&e.Grade4Description, &e.Grade5Description,
		&e.PatientFriendlyName, &e.PatientFriendlyDescription, &e.DisplayOrder,
		&e.CreatedAt, &e.UpdatedAt)
	return &e, err
}

func (r *adverseEventRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*AdverseEvent, error) {
	e, err := scanEvent(r.conn(ctx).QueryRow(ctx, `SELECT `+eventCols+` FROM `+eventFrom+` WHERE e.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (r *adverseEventRepoPG) List(ctx context.Context, f Filter) ([]*AdverseEvent, error) {
	q := db.NewQuery(eventFrom, eventCols).
		Contains(f.Search, "e.event_name", "e.patient_friendly_name").
		OrderBy("e.display_order ASC, e.patient_friendly_name ASC")
	if f.CategoryID != nil {
		q.Eq("e.category_id", *f.CategoryID)
	}

	rows, err := r.conn(ctx).Query(ctx, q.SelectSQL(), q.Args()...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*AdverseEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}
