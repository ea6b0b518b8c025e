package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	tests := []struct {
		resource Resource
		action   Action
		role     Role
		want     Scope
	}{
		{ResourcePatient, ActionList, RolePatient, ScopeNone},
		{ResourcePatient, ActionList, RoleClinician, ScopeAll},
		{ResourcePatient, ActionRead, RolePatient, ScopeSelf},
		{ResourcePatient, ActionCreate, RolePatient, ScopeNone},
		{ResourcePatient, ActionUpdate, RoleAdmin, ScopeAll},
		{ResourcePatient, ActionDashboard, RolePatient, ScopeSelf},
		{ResourcePatient, ActionDashboard, RoleClinician, ScopeNone},
		{ResourceTreatmentPlan, ActionRead, RolePatient, ScopeSelf},
		{ResourceTreatmentPlan, ActionCreate, RolePatient, ScopeNone},
		{ResourceCatalog, ActionRead, RolePatient, ScopeAll},
		{ResourceSideEffect, ActionReport, RolePatient, ScopeSelf},
		{ResourceSideEffect, ActionReport, RoleClinician, ScopeNone},
		{ResourceSideEffect, ActionList, RoleClinician, ScopeCareTeam},
		{ResourceSideEffect, ActionUpdate, RolePatient, ScopeSelf},
		{ResourceSideEffect, ActionUpdate, RoleAdmin, ScopeAll},
		{ResourceSideEffect, ActionUrgent, RolePatient, ScopeNone},
		{ResourceSideEffect, ActionUrgent, RoleClinician, ScopeCareTeam},
	}
	for _, tt := range tests {
		if got := p.Scope(tt.resource, tt.action, tt.role); got != tt.want {
			t.Errorf("%s/%s/%s: expected %s, got %s", tt.resource, tt.action, tt.role, tt.want, got)
		}
	}
}

func TestPolicyTable_UnknownRoleHasNoAccess(t *testing.T) {
	if got := DefaultPolicy().Scope(ResourceCatalog, ActionRead, Role("guest")); got != ScopeNone {
		t.Errorf("expected none for unknown role, got %s", got)
	}
}

func TestRequire(t *testing.T) {
	table := DefaultPolicy()
	tests := []struct {
		name string
		p    *Principal
		want int
	}{
		{"no principal", nil, http.StatusUnauthorized},
		{"patient forbidden", &Principal{UserID: uuid.New(), Role: RolePatient}, http.StatusForbidden},
		{"clinician allowed", &Principal{UserID: uuid.New(), Role: RoleClinician}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/api/patients", nil)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)
			if tt.p != nil {
				SetPrincipal(c, tt.p)
			}

			h := table.Require(ResourcePatient, ActionList)(func(c echo.Context) error {
				return c.NoContent(http.StatusOK)
			})
			err := h(c)
			if tt.want == http.StatusOK {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			expectStatus(t, err, tt.want)
		})
	}
}
