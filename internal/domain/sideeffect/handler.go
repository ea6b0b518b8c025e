package sideeffect

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/eproms/proms/internal/domain/ctcae"
	"github.com/eproms/proms/internal/platform/auth"
	"github.com/eproms/proms/pkg/civil"
	"github.com/eproms/proms/pkg/validate"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/side-effects")
	policy := h.svc.policy
	g.POST("/report", h.Report, policy.Require(auth.ResourceSideEffect, auth.ActionReport))
	g.GET("", h.List, policy.Require(auth.ResourceSideEffect, auth.ActionList))
	g.GET("/urgent", h.Urgent, policy.Require(auth.ResourceSideEffect, auth.ActionUrgent))
	g.PUT("/:id", h.Update, policy.Require(auth.ResourceSideEffect, auth.ActionUpdate))
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrAccessDenied):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrSideEffectNotFound), errors.Is(err, ErrPatientNotFound),
		errors.Is(err, ErrProfileNotFound), errors.Is(err, ctcae.ErrEventNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidTransition):
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

func (h *Handler) Report(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var req ReportRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	se, err := h.svc.Report(c.Request().Context(), p, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"message":     "Side effect reported successfully",
		"side_effect": se,
	})
}

func parseListQuery(c echo.Context) (ListQuery, error) {
	var (
		q    ListQuery
		errs validate.Errors
	)
	if v := c.QueryParam("patient_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			errs.Add("patient_id", "must be a UUID")
		} else {
			q.PatientID = &id
		}
	}
	if v := c.QueryParam("status"); v != "" {
		st := ReviewStatus(v)
		q.Status = &st
	}
	q.UrgentOnly = c.QueryParam("urgent") == "true"
	for _, d := range []struct {
		param string
		dst   **civil.Date
	}{{"start_date", &q.From}, {"end_date", &q.To}} {
		v := c.QueryParam(d.param)
		if v == "" {
			continue
		}
		parsed, err := civil.Parse(v)
		if err != nil {
			errs.Add(d.param, "must be a date in YYYY-MM-DD form")
			continue
		}
		*d.dst = &parsed
	}
	return q, errs.Err()
}

func (h *Handler) List(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	q, err := parseListQuery(c)
	if err != nil {
		return err
	}
	items, err := h.svc.List(c.Request().Context(), p, q)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"side_effects": items})
}

func (h *Handler) Urgent(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	items, err := h.svc.Urgent(c.Request().Context(), p)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"side_effects": items})
}

func (h *Handler) Update(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req UpdateRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	se, err := h.svc.Update(c.Request().Context(), p, id, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message":     "Side effect updated successfully",
		"side_effect": se,
	})
}
