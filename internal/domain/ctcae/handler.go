package ctcae

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/eproms/proms/internal/platform/auth"
)

type Handler struct {
	svc    *Service
	policy *auth.PolicyTable
}

func NewHandler(svc *Service, policy *auth.PolicyTable) *Handler {
	return &Handler{svc: svc, policy: policy}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/side-effects/ctcae-events", h.policy.Require(auth.ResourceCatalog, auth.ActionRead))
	g.GET("", h.ListEvents)
	g.GET("/:id", h.GetEvent)
}

func (h *Handler) ListEvents(c echo.Context) error {
	f := Filter{Search: c.QueryParam("search")}
	if category := c.QueryParam("category"); category != "" {
		id, err := uuid.Parse(category)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid category")
		}
		f.CategoryID = &id
	}
	items, err := h.svc.ListEvents(c.Request().Context(), f)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"events": items})
}

func (h *Handler) GetEvent(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	e, err := h.svc.GetEvent(c.Request().Context(), id)
	if errors.Is(err, ErrEventNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"event": e})
}
