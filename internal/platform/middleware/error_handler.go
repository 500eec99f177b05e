package middleware

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// ServerErrorMessage is the only body clients see for a 500.
const ServerErrorMessage = "Server error"

// ErrorHandler renders every error as a JSON object with an "error" key.
// A 500 never carries details; they go to the log instead. Other statuses
// render the *echo.HTTPError message, which may be a string or a ready-made
// object (validation failures carry per-field messages).
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := http.StatusInternalServerError
		var body interface{} = map[string]string{"error": ServerErrorMessage}
		cause := err

		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if he.Internal != nil {
				cause = he.Internal
			}
			if code != http.StatusInternalServerError {
				switch m := he.Message.(type) {
				case string:
					body = map[string]string{"error": m}
				case error:
					body = map[string]string{"error": m.Error()}
				case nil:
					body = map[string]string{"error": http.StatusText(code)}
				default:
					body = m
				}
			}
		}

		if code >= http.StatusInternalServerError {
			rid, _ := c.Get("request_id").(string)
			logger.Error().
				Err(cause).
				Str("request_id", rid).
				Str("method", c.Request().Method).
				Str("path", c.Request().URL.Path).
				Int("status", code).
				Msg("request failed")
		}

		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(code)
		} else {
			werr = c.JSON(code, body)
		}
		if werr != nil {
			logger.Error().Err(werr).Msg("write error response")
		}
	}
}
