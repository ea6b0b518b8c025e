package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/eproms/proms/pkg/validate"
)

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return body.Error
}

func TestErrorHandler_HTTPError(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	ErrorHandler(zerolog.Nop(), false)(echo.NewHTTPError(http.StatusBadRequest, "NHS number already exists"), c)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	if msg := errorBody(t, rec); msg != "NHS number already exists" {
		t.Errorf("unexpected message %q", msg)
	}
}

func TestErrorHandler_RedactsInternalErrors(t *testing.T) {
	for _, expose := range []bool{false, true} {
		e := echo.New()
		rec := httptest.NewRecorder()
		c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

		ErrorHandler(zerolog.Nop(), expose)(errors.New("pq: relation does not exist"), c)

		if rec.Code != http.StatusInternalServerError {
			t.Errorf("expected 500, got %d", rec.Code)
		}
		msg := errorBody(t, rec)
		if expose && msg != "pq: relation does not exist" {
			t.Errorf("expected internal message in development, got %q", msg)
		}
		if !expose && msg != "Internal server error" {
			t.Errorf("expected redacted message, got %q", msg)
		}
	}
}

func TestErrorHandler_UnknownRoute(t *testing.T) {
	e := echo.New()
	e.HTTPErrorHandler = ErrorHandler(zerolog.Nop(), false)
	e.GET("/api/patients", okHandler)

	for _, tt := range []struct{ method, path string }{
		{http.MethodGet, "/api/nope"},
		{http.MethodDelete, "/api/patients"},
	} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s %s: expected 404, got %d", tt.method, tt.path, rec.Code)
		}
		if msg := errorBody(t, rec); msg != "Route not found" {
			t.Errorf("%s %s: unexpected message %q", tt.method, tt.path, msg)
		}
	}
}

func TestErrorHandler_UnwrapsBodyLimitFromBinder(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), rec)

	wrapped := echo.NewHTTPError(http.StatusBadRequest, "bad body").SetInternal(tooLarge(10))
	ErrorHandler(zerolog.Nop(), false)(wrapped, c)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", rec.Code)
	}
}

func TestErrorHandler_ValidationErrors(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/api/auth/register", nil), rec)

	var verrs validate.Errors
	verrs.Add("email", "must be a valid email")
	verrs.Add("password", "must be at least 8 characters")
	ErrorHandler(zerolog.Nop(), false)(fmt.Errorf("register: %w", verrs.Err()), c)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Errors) != 2 || body.Errors[0].Field != "email" {
		t.Errorf("unexpected field errors %+v", body.Errors)
	}
}
