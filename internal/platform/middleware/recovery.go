package middleware

import (
	"fmt"
	"net/http"
	"runtime"

	"github.com/getsentry/sentry-go"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Recovery turns a panic into a 500. The panic is logged with its stack and
// reported to Sentry when a client is configured.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				if r == http.ErrAbortHandler {
					panic(r)
				}

				var stack [4096]byte
				n := runtime.Stack(stack[:], false)
				rid := RequestIDFrom(c)

				logger.Error().
					Str("request_id", rid).
					Str("panic", fmt.Sprintf("%v", r)).
					Str("stack", string(stack[:n])).
					Msg("panic recovered")

				if hub := sentry.CurrentHub(); hub.Client() != nil {
					hub = hub.Clone()
					hub.Scope().SetRequest(c.Request())
					hub.Scope().SetTag("request_id", rid)
					hub.Recover(r)
				}

				err = echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
			}()
			return next(c)
		}
	}
}
