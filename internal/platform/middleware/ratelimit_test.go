package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func rateLimitedEcho(cfg RateLimitConfig) *echo.Echo {
	e := echo.New()
	e.Use(RateLimit(cfg))
	e.GET("/api/x", okHandler)
	e.GET("/health", okHandler)
	return e
}

func doFrom(e *echo.Echo, ip, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = ip + ":1234"
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestRateLimit_WithinAndOverLimit(t *testing.T) {
	e := rateLimitedEcho(RateLimitConfig{Window: time.Minute, MaxRequests: 3})

	for i := 0; i < 3; i++ {
		rec := doFrom(e, "10.0.0.1", "/api/x")
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
	}
	rec := doFrom(e, "10.0.0.1", "/api/x")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("expected remaining 0, got %s", rec.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestRateLimit_PerIPIsolation(t *testing.T) {
	e := rateLimitedEcho(RateLimitConfig{Window: time.Minute, MaxRequests: 1})

	if rec := doFrom(e, "10.0.0.1", "/api/x"); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec := doFrom(e, "10.0.0.2", "/api/x"); rec.Code != http.StatusOK {
		t.Errorf("expected other IP to be unaffected, got %d", rec.Code)
	}
}

func TestRateLimit_Skipper(t *testing.T) {
	e := rateLimitedEcho(RateLimitConfig{
		Window:      time.Minute,
		MaxRequests: 1,
		Skipper:     func(c echo.Context) bool { return c.Path() == "/health" },
	})
	for i := 0; i < 3; i++ {
		if rec := doFrom(e, "10.0.0.1", "/health"); rec.Code != http.StatusOK {
			t.Fatalf("expected skipped route to pass, got %d", rec.Code)
		}
	}
}

func TestWindowStore_Resets(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s := newWindowStore(time.Minute, 2)
	s.now = func() time.Time { return now }

	s.take("a")
	s.take("a")
	if ok, _, _ := s.take("a"); ok {
		t.Fatal("expected third request in window to be rejected")
	}

	now = now.Add(61 * time.Second)
	ok, remaining, reset := s.take("a")
	if !ok || remaining != 1 {
		t.Errorf("expected fresh window, got ok=%v remaining=%d", ok, remaining)
	}
	if !reset.Equal(now.Add(time.Minute)) {
		t.Errorf("unexpected reset time %v", reset)
	}
}

func TestWindowStore_SweepsExpired(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s := newWindowStore(time.Minute, 5)
	s.now = func() time.Time { return now }

	s.take("a")
	s.take("b")
	now = now.Add(2 * time.Minute)
	s.take("c")

	if len(s.windows) != 1 {
		t.Errorf("expected expired windows to be swept, have %d", len(s.windows))
	}
}

func TestRateLimit_InvalidConfigUsesDefault(t *testing.T) {
	e := rateLimitedEcho(RateLimitConfig{})
	rec := doFrom(e, "10.0.0.9", "/api/x")
	if rec.Header().Get("X-RateLimit-Limit") != "100" {
		t.Errorf("expected default limit 100, got %s", rec.Header().Get("X-RateLimit-Limit"))
	}
}
