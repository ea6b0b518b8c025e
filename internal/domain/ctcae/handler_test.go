package ctcae

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/eproms/proms/internal/platform/auth"
)

func newTestHandler() (*Handler, *mockAdverseEventRepo, *echo.Echo) {
	svc, repo := newTestService()
	return NewHandler(svc, auth.DefaultPolicy()), repo, echo.New()
}

func TestHandler_ListEvents(t *testing.T) {
	h, repo, e := newTestHandler()
	repo.add("Nausea", "Feeling sick", 1, nil)

	req := httptest.NewRequest(http.MethodGet, "/?search=nau", nil)
	rec := httptest.NewRecorder()
	if err := h.ListEvents(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"events":[`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestHandler_ListEvents_BadCategory(t *testing.T) {
	h, _, e := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/?category=gastro", nil)
	err := h.ListEvents(e.NewContext(req, httptest.NewRecorder()))
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_GetEvent(t *testing.T) {
	h, repo, e := newTestHandler()
	ev := repo.add("Nausea", "Feeling sick", 1, nil)

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(ev.ID.String())
	if err := h.GetEvent(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"event_name":"Nausea"`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestHandler_GetEvent_NotFound(t *testing.T) {
	h, _, e := newTestHandler()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())

	err := h.GetEvent(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
	if he.Message != "CTCAE event not found" {
		t.Errorf("unexpected message %v", he.Message)
	}
}
