package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// RateLimitConfig is a fixed-window limit: at most MaxRequests per client IP
// in each Window.
type RateLimitConfig struct {
	Window      time.Duration
	MaxRequests int
	// Skipper exempts requests, e.g. health checks.
	Skipper func(c echo.Context) bool
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Window:      15 * time.Minute,
		MaxRequests: 100,
	}
}

type window struct {
	start time.Time
	count int
}

// windowStore tracks one window per key. Expired windows are swept lazily,
// at most once per window length.
type windowStore struct {
	mu        sync.Mutex
	windows   map[string]*window
	length    time.Duration
	max       int
	lastSweep time.Time
	now       func() time.Time
}

func newWindowStore(length time.Duration, max int) *windowStore {
	return &windowStore{
		windows: make(map[string]*window),
		length:  length,
		max:     max,
		now:     time.Now,
	}
}

// take counts a request for key and reports whether it is allowed, how many
// requests remain and when the window resets.
func (s *windowStore) take(key string) (bool, int, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Sub(s.lastSweep) >= s.length {
		for k, w := range s.windows {
			if now.Sub(w.start) >= s.length {
				delete(s.windows, k)
			}
		}
		s.lastSweep = now
	}

	w, ok := s.windows[key]
	if !ok || now.Sub(w.start) >= s.length {
		w = &window{start: now}
		s.windows[key] = w
	}

	reset := w.start.Add(s.length)
	if w.count >= s.max {
		return false, 0, reset
	}
	w.count++
	return true, s.max - w.count, reset
}

// RateLimit limits requests per client IP.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	if cfg.Window <= 0 || cfg.MaxRequests <= 0 {
		cfg = DefaultRateLimitConfig()
	}
	store := newWindowStore(cfg.Window, cfg.MaxRequests)
	limit := strconv.Itoa(cfg.MaxRequests)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Skipper != nil && cfg.Skipper(c) {
				return next(c)
			}

			allowed, remaining, reset := store.take(c.RealIP())
			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))

			if !allowed {
				retry := int(time.Until(reset).Seconds()) + 1
				if retry < 1 {
					retry = 1
				}
				h.Set("Retry-After", strconv.Itoa(retry))
				return echo.NewHTTPError(http.StatusTooManyRequests,
					"Too many requests from this IP, please try again later.")
			}
			return next(c)
		}
	}
}
