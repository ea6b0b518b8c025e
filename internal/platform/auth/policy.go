package auth

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type Resource string

const (
	ResourcePatient       Resource = "patient"
	ResourceTreatmentPlan Resource = "treatment_plan"
	ResourceCatalog       Resource = "catalog"
	ResourceSideEffect    Resource = "side_effect"
)

type Action string

const (
	ActionList      Action = "list"
	ActionRead      Action = "read"
	ActionCreate    Action = "create"
	ActionUpdate    Action = "update"
	ActionDashboard Action = "dashboard"
	ActionReport    Action = "report"
	ActionUrgent    Action = "urgent"
)

// Scope is how much data a role may touch for a (resource, action) pair.
type Scope int

const (
	ScopeNone Scope = iota
	// ScopeSelf limits the caller to records they own.
	ScopeSelf
	// ScopeCareTeam limits a clinician to patients whose primary clinician
	// they are.
	ScopeCareTeam
	ScopeAll
)

func (s Scope) String() string {
	switch s {
	case ScopeSelf:
		return "self"
	case ScopeCareTeam:
		return "care-team"
	case ScopeAll:
		return "all"
	default:
		return "none"
	}
}

type policyKey struct {
	resource Resource
	action   Action
}

// PolicyTable maps (resource, action, role) to a Scope. Pairs that are not
// listed resolve to ScopeNone.
type PolicyTable struct {
	rules map[policyKey]map[Role]Scope
}

func NewPolicyTable() *PolicyTable {
	return &PolicyTable{rules: make(map[policyKey]map[Role]Scope)}
}

// Allow grants scope to role for the resource and action.
func (t *PolicyTable) Allow(resource Resource, action Action, role Role, scope Scope) *PolicyTable {
	k := policyKey{resource, action}
	if t.rules[k] == nil {
		t.rules[k] = make(map[Role]Scope)
	}
	t.rules[k][role] = scope
	return t
}

func (t *PolicyTable) Scope(resource Resource, action Action, role Role) Scope {
	return t.rules[policyKey{resource, action}][role]
}

// DefaultPolicy is the access table the API ships with.
func DefaultPolicy() *PolicyTable {
	t := NewPolicyTable()

	t.Allow(ResourcePatient, ActionList, RoleClinician, ScopeAll).
		Allow(ResourcePatient, ActionList, RoleAdmin, ScopeAll)
	t.Allow(ResourcePatient, ActionRead, RolePatient, ScopeSelf).
		Allow(ResourcePatient, ActionRead, RoleClinician, ScopeAll).
		Allow(ResourcePatient, ActionRead, RoleAdmin, ScopeAll)
	for _, a := range []Action{ActionCreate, ActionUpdate} {
		t.Allow(ResourcePatient, a, RoleClinician, ScopeAll).
			Allow(ResourcePatient, a, RoleAdmin, ScopeAll)
		t.Allow(ResourceTreatmentPlan, a, RoleClinician, ScopeAll).
			Allow(ResourceTreatmentPlan, a, RoleAdmin, ScopeAll)
	}
	t.Allow(ResourcePatient, ActionDashboard, RolePatient, ScopeSelf)

	t.Allow(ResourceTreatmentPlan, ActionRead, RolePatient, ScopeSelf).
		Allow(ResourceTreatmentPlan, ActionRead, RoleClinician, ScopeAll).
		Allow(ResourceTreatmentPlan, ActionRead, RoleAdmin, ScopeAll)

	for _, r := range Roles {
		t.Allow(ResourceCatalog, ActionRead, r, ScopeAll)
	}

	t.Allow(ResourceSideEffect, ActionReport, RolePatient, ScopeSelf)
	for _, a := range []Action{ActionList, ActionUpdate} {
		t.Allow(ResourceSideEffect, a, RolePatient, ScopeSelf).
			Allow(ResourceSideEffect, a, RoleClinician, ScopeCareTeam).
			Allow(ResourceSideEffect, a, RoleAdmin, ScopeAll)
	}
	t.Allow(ResourceSideEffect, ActionUrgent, RoleClinician, ScopeCareTeam).
		Allow(ResourceSideEffect, ActionUrgent, RoleAdmin, ScopeAll)

	return t
}

// Require rejects callers whose role has ScopeNone for the pair.
func (t *PolicyTable) Require(resource Resource, action Action) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p := PrincipalFromContext(c.Request().Context())
			if p == nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "Unauthorized")
			}
			if t.Scope(resource, action, p.Role) == ScopeNone {
				return echo.NewHTTPError(http.StatusForbidden, "Forbidden: Insufficient permissions")
			}
			return next(c)
		}
	}
}
