package auth

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// Role is one of the closed set of account roles.
type Role string

const (
	RolePatient   Role = "patient"
	RoleClinician Role = "clinician"
	RoleAdmin     Role = "admin"
)

// Roles lists every role in a stable order.
var Roles = []Role{RolePatient, RoleClinician, RoleAdmin}

func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleClinician, RoleAdmin:
		return true
	}
	return false
}

func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Principal is the authenticated caller, re-read from the store on every
// request.
type Principal struct {
	UserID uuid.UUID
	Email  string
	Role   Role
}

type contextKey string

const principalKey contextKey = "principal"

// PrincipalEchoKey is where the bearer middleware also stores the principal
// on the echo context, for the audit and access log middleware.
const PrincipalEchoKey = "principal"

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext returns the caller set by BearerAuth, or nil.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey).(*Principal)
	return p
}

// SetPrincipal stores p on both the request context and the echo context.
func SetPrincipal(c echo.Context, p *Principal) {
	c.Set(PrincipalEchoKey, p)
	c.SetRequest(c.Request().WithContext(WithPrincipal(c.Request().Context(), p)))
}

// UserIDFromContext returns the caller's id as a string, or "" when
// unauthenticated.
func UserIDFromContext(ctx context.Context) string {
	if p := PrincipalFromContext(ctx); p != nil {
		return p.UserID.String()
	}
	return ""
}
