package identity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eproms/proms/internal/platform/auth"
	"github.com/eproms/proms/internal/platform/db"
)

type userRepoPG struct{ pool *pgxpool.Pool }

func NewUserRepoPG(pool *pgxpool.Pool) UserRepository {
	return &userRepoPG{pool: pool}
}

func (r *userRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const userCols = `id, email, password_hash, role, nhs_sso_id, first_name, last_name,
	phone_number, is_active, last_login, created_at, updated_at`

func (r *userRepoPG) scanUser(row pgx.Row) (*User, error) {
	var u User
	var role string
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &role, &u.NHSSSOID, &u.FirstName, &u.LastName,
		&u.PhoneNumber, &u.IsActive, &u.LastLogin, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Role = auth.Role(role)
	return &u, nil
}

func (r *userRepoPG) Create(ctx context.Context, u *User) error {
	u.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO users (id, email, password_hash, role, nhs_sso_id, first_name, last_name,
			phone_number, is_active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at, updated_at`,
		u.ID, u.Email, u.PasswordHash, string(u.Role), u.NHSSSOID, u.FirstName, u.LastName,
		u.PhoneNumber, u.IsActive).Scan(&u.CreatedAt, &u.UpdatedAt)
	switch {
	case db.IsUniqueViolation(err, "users_email_key"):
		return ErrEmailTaken
	case db.IsUniqueViolation(err, "users_nhs_sso_id_key"):
		return ErrSSOIDTaken
	}
	return err
}

func (r *userRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return r.scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id))
}

func (r *userRepoPG) GetByEmail(ctx context.Context, email string) (*User, error) {
	return r.scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE email = $1`, email))
}

func (r *userRepoPG) GetByNHSSSOID(ctx context.Context, nhsSSOID string) (*User, error) {
	return r.scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE nhs_sso_id = $1`, nhsSSOID))
}

func (r *userRepoPG) UpdateProfile(ctx context.Context, u *User) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE users SET first_name=$2, last_name=$3, phone_number=$4, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		u.ID, u.FirstName, u.LastName, u.PhoneNumber).Scan(&u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrUserNotFound
	}
	return err
}

func (r *userRepoPG) UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id = $1`, id, hash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *userRepoPG) SetLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.conn(ctx).Exec(ctx, `UPDATE users SET last_login=$2 WHERE id = $1`, id, at)
	return err
}
