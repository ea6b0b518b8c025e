package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths are route patterns reachable without a bearer token.
var publicPaths = map[string]bool{
	"/health":                    true,
	"/health/db":                 true,
	"/api/auth/register":         true,
	"/api/auth/login":            true,
	"/api/auth/nhs-sso":          true,
	"/api/auth/nhs-sso/callback": true,
}

// AuthSkipper returns true for requests whose route should skip
// authentication.
func AuthSkipper(c echo.Context) bool {
	return publicPaths[c.Path()]
}

// IsPublicPath reports whether the given route pattern is public.
func IsPublicPath(path string) bool {
	return publicPaths[path]
}
