package middleware

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/eproms/proms/pkg/validate"
)

// ErrorResponse is the JSON body of every error.
type ErrorResponse struct {
	Error  string                `json:"error"`
	Errors []validate.FieldError `json:"errors,omitempty"`
}

// ErrorHandler renders errors as {"error": "..."}. Validation errors become
// 400s listing each field. Messages of 500s are replaced with a generic one
// unless exposeInternal is set.
func ErrorHandler(logger zerolog.Logger, exposeInternal bool) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code, msg := http.StatusInternalServerError, "Internal server error"
		var fields []validate.FieldError

		var he *echo.HTTPError
		if verrs, ok := validate.As(err); ok {
			code, msg, fields = http.StatusBadRequest, verrs.Error(), verrs
		} else if errors.As(err, &he) {
			// Errors raised while reading the body come back wrapped by the
			// binder as 400s.
			var inner *echo.HTTPError
			if he.Internal != nil && errors.As(he.Internal, &inner) {
				he = inner
			}
			code = he.Code
			switch {
			case code == http.StatusNotFound && he.Message == echo.ErrNotFound.Message:
				msg = "Route not found"
			case code == http.StatusMethodNotAllowed:
				msg = "Route not found"
				code = http.StatusNotFound
			default:
				if m, ok := he.Message.(string); ok {
					msg = m
				} else {
					msg = http.StatusText(code)
				}
			}
		}

		if code >= http.StatusInternalServerError {
			rid, _ := c.Get("request_id").(string)
			logger.Error().Err(err).
				Str("request_id", rid).
				Str("path", c.Request().URL.Path).
				Msg("unhandled error")
			if exposeInternal && err != nil {
				msg = err.Error()
			} else {
				msg = "Internal server error"
			}
		}

		var writeErr error
		if c.Request().Method == http.MethodHead {
			writeErr = c.NoContent(code)
		} else {
			writeErr = c.JSON(code, ErrorResponse{Error: msg, Errors: fields})
		}
		if writeErr != nil {
			logger.Error().Err(writeErr).Msg("write error response")
		}
	}
}
