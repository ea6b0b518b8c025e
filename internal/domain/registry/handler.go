package registry

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/eproms/proms/internal/platform/auth"
	"github.com/eproms/proms/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/patients")
	policy := h.svc.policy
	g.GET("", h.List, policy.Require(auth.ResourcePatient, auth.ActionList))
	g.POST("", h.Create, policy.Require(auth.ResourcePatient, auth.ActionCreate))
	g.GET("/dashboard", h.Dashboard, policy.Require(auth.ResourcePatient, auth.ActionDashboard))
	g.GET("/:id", h.Get, policy.Require(auth.ResourcePatient, auth.ActionRead))
	g.PUT("/:id", h.Update, policy.Require(auth.ResourcePatient, auth.ActionUpdate))
	g.GET("/:id/treatment-plans", h.ListPlans, policy.Require(auth.ResourceTreatmentPlan, auth.ActionRead))
	g.POST("/:id/treatment-plans", h.CreatePlan, policy.Require(auth.ResourceTreatmentPlan, auth.ActionCreate))
	g.PUT("/:id/treatment-plans/:planId", h.UpdatePlan, policy.Require(auth.ResourceTreatmentPlan, auth.ActionUpdate))
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrAccessDenied):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrPatientNotFound), errors.Is(err, ErrProfileNotFound), errors.Is(err, ErrPlanNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrNHSNumberTaken), errors.Is(err, ErrProfileExists),
		errors.Is(err, ErrNotPatientUser), errors.Is(err, ErrInvalidClinician):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return err
}

func principal(c echo.Context) (*auth.Principal, error) {
	p := auth.PrincipalFromContext(c.Request().Context())
	if p == nil {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "Unauthorized")
	}
	return p, nil
}

func parseID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func (h *Handler) List(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	f := ListFilter{
		Search:     c.QueryParam("search"),
		CancerType: c.QueryParam("cancer_type"),
	}
	items, meta, err := h.svc.List(c.Request().Context(), p, f, pagination.FromContext(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"patients":   items,
		"pagination": meta,
	})
}

func (h *Handler) Get(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	rec, err := h.svc.Get(c.Request().Context(), p, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"patient": rec})
}

func (h *Handler) Create(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var req CreatePatientRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	patient, err := h.svc.Create(c.Request().Context(), p, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"message": "Patient created successfully",
		"patient": patient,
	})
}

func (h *Handler) Update(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req UpdatePatientRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	patient, err := h.svc.Update(c.Request().Context(), p, id, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message": "Patient updated successfully",
		"patient": patient,
	})
}

func (h *Handler) Dashboard(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	d, err := h.svc.Dashboard(c.Request().Context(), p)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) ListPlans(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	plans, err := h.svc.ListPlans(c.Request().Context(), p, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"treatment_plans": plans})
}

func (h *Handler) CreatePlan(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req PlanRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	tp, err := h.svc.CreatePlan(c.Request().Context(), p, id, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"message":        "Treatment plan created successfully",
		"treatment_plan": tp,
	})
}

func (h *Handler) UpdatePlan(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	planID, err := parseID(c, "planId")
	if err != nil {
		return err
	}
	var req PlanUpdateRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	tp, err := h.svc.UpdatePlan(c.Request().Context(), p, id, planID, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message":        "Treatment plan updated successfully",
		"treatment_plan": tp,
	})
}
