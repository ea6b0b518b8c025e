package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/eproms/proms/internal/platform/auth"
)

// AuditEntry records one access to patient data.
type AuditEntry struct {
	UserID     string
	Role       string
	Resource   string
	PatientID  string
	Action     string // read, create, update
	IPAddress  string
	UserAgent  string
	Path       string
	Method     string
	Timestamp  time.Time
	RequestID  string
	StatusCode int
}

// AuditRecorder persists audit entries in addition to the audit log line.
type AuditRecorder interface {
	RecordAccess(ctx context.Context, entry AuditEntry) error
}

type AuditRecorderFunc func(ctx context.Context, entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(ctx context.Context, entry AuditEntry) error {
	return f(ctx, entry)
}

// auditedPrefixes are the route groups that expose patient data.
var auditedPrefixes = []string{"/api/patients", "/api/side-effects"}

// Audit logs a "phi_access" line for every request under the patient and
// side-effect routes, after the handler has run.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path
			if !isAuditablePath(path) {
				return next(c)
			}

			err := next(c)

			entry := AuditEntry{
				Timestamp:  time.Now().UTC(),
				Path:       path,
				Method:     req.Method,
				IPAddress:  c.RealIP(),
				UserAgent:  req.UserAgent(),
				StatusCode: c.Response().Status,
				Action:     httpMethodToAction(req.Method),
				Resource:   extractResource(path),
				PatientID:  extractPatientID(c),
			}
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					entry.StatusCode = he.Code
				} else {
					entry.StatusCode = http.StatusInternalServerError
				}
			}
			// BearerAuth runs after this middleware and replaces the request,
			// so the caller is only visible on the context once next returns.
			if p := principalOf(c); p != nil {
				entry.UserID = p.UserID.String()
				entry.Role = string(p.Role)
			}
			if rid, ok := c.Get("request_id").(string); ok {
				entry.RequestID = rid
			}

			for _, r := range recorders {
				if r == nil {
					continue
				}
				if recErr := r.RecordAccess(c.Request().Context(), entry); recErr != nil {
					logger.Error().Err(recErr).
						Str("request_id", entry.RequestID).
						Msg("failed to record audit entry")
				}
			}

			logger.Info().
				Str("type", "phi_access").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Str("role", entry.Role).
				Str("resource", entry.Resource).
				Str("patient_id", entry.PatientID).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("phi_access")

			return err
		}
	}
}

func principalOf(c echo.Context) *auth.Principal {
	if p, ok := c.Get(auth.PrincipalEchoKey).(*auth.Principal); ok && p != nil {
		return p
	}
	return auth.PrincipalFromContext(c.Request().Context())
}

func isAuditablePath(path string) bool {
	for _, p := range auditedPrefixes {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

func httpMethodToAction(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

// extractResource maps a path to its audited resource name:
//
//	/api/patients/<id>/treatment-plans -> treatment-plans
//	/api/patients/<id>                 -> patients
//	/api/side-effects/urgent           -> side-effects
func extractResource(path string) string {
	segments := strings.Split(strings.Trim(strings.TrimPrefix(path, "/api/"), "/"), "/")
	if len(segments) >= 3 && segments[0] == "patients" && isUUIDLike(segments[1]) {
		return segments[2]
	}
	if len(segments) > 0 && segments[0] != "" {
		return segments[0]
	}
	return "unknown"
}

// extractPatientID finds the patient id in /api/patients/<id>... or the
// patient_id query parameter.
func extractPatientID(c echo.Context) string {
	path := c.Request().URL.Path
	if strings.HasPrefix(path, "/api/patients/") {
		seg, _, _ := strings.Cut(strings.TrimPrefix(path, "/api/patients/"), "/")
		if isUUIDLike(seg) {
			return seg
		}
	}
	if id := c.QueryParam("patient_id"); isUUIDLike(id) {
		return id
	}
	return ""
}

func isUUIDLike(s string) bool {
	if s == "" {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}
