package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

var ErrAccountNotFound = errors.New("account not found")

// Account is the subset of a user row the bearer middleware checks.
type Account struct {
	ID     uuid.UUID
	Email  string
	Role   Role
	Active bool
}

// AccountLookup re-reads the user named by a token. Implementations return
// ErrAccountNotFound for unknown ids.
type AccountLookup interface {
	LookupAccount(ctx context.Context, id uuid.UUID) (*Account, error)
}

type BearerConfig struct {
	Tokens   *TokenIssuer
	Accounts AccountLookup
	// Skipper bypasses authentication when it returns true.
	Skipper func(c echo.Context) bool
}

// BearerAuth verifies the bearer token, then loads the account it names.
// Tokens for deleted or deactivated accounts are rejected even before they
// expire.
func BearerAuth(cfg BearerConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Skipper != nil && cfg.Skipper(c) {
				return next(c)
			}

			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}

			scheme, raw, ok := strings.Cut(authHeader, " ")
			raw = strings.TrimSpace(raw)
			if !ok || !strings.EqualFold(scheme, "bearer") || raw == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			userID, _, err := cfg.Tokens.Parse(raw)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid token")
			}

			acct, err := cfg.Accounts.LookupAccount(c.Request().Context(), userID)
			if err != nil {
				if errors.Is(err, ErrAccountNotFound) {
					return echo.NewHTTPError(http.StatusUnauthorized, "Unauthorized")
				}
				return err
			}
			if !acct.Active {
				return echo.NewHTTPError(http.StatusUnauthorized, "Unauthorized")
			}

			SetPrincipal(c, &Principal{UserID: acct.ID, Email: acct.Email, Role: acct.Role})
			return next(c)
		}
	}
}
