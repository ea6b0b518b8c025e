package identity

import (
	"time"

	"github.com/google/uuid"

	"github.com/eproms/proms/internal/platform/auth"
)

// User maps to the users table. Users are deactivated, never deleted.
type User struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	Email        string     `db:"email" json:"email"`
	PasswordHash *string    `db:"password_hash" json:"-"`
	Role         auth.Role  `db:"role" json:"role"`
	NHSSSOID     *string    `db:"nhs_sso_id" json:"nhs_sso_id,omitempty"`
	FirstName    string     `db:"first_name" json:"first_name"`
	LastName     string     `db:"last_name" json:"last_name"`
	PhoneNumber  *string    `db:"phone_number" json:"phone_number,omitempty"`
	IsActive     bool       `db:"is_active" json:"is_active"`
	LastLogin    *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// Account is the view of u the bearer middleware needs.
func (u *User) Account() *auth.Account {
	return &auth.Account{ID: u.ID, Email: u.Email, Role: u.Role, Active: u.IsActive}
}

// Summary is the slice of a user embedded in patient and side effect
// responses. Optional fields are left nil when a view should not expose
// them.
type Summary struct {
	ID          uuid.UUID  `json:"id"`
	FirstName   string     `json:"first_name"`
	LastName    string     `json:"last_name"`
	Email       *string    `json:"email,omitempty"`
	PhoneNumber *string    `json:"phone_number,omitempty"`
	LastLogin   *time.Time `json:"last_login,omitempty"`
}

type RegisterRequest struct {
	Email       string  `json:"email"`
	Password    string  `json:"password"`
	FirstName   string  `json:"first_name"`
	LastName    string  `json:"last_name"`
	PhoneNumber *string `json:"phone_number"`
	Role        string  `json:"role"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ProfileUpdate carries the fields a user may change about themselves.
// Empty values keep the stored value.
type ProfileUpdate struct {
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	PhoneNumber string `json:"phone_number"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// Session is returned by register and login.
type Session struct {
	Message string `json:"message"`
	Token   string `json:"token"`
	User    *User  `json:"user"`
}
