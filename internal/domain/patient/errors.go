package patient

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/carelink/carelink/internal/domain/rules"
	"github.com/carelink/carelink/internal/platform/auth"
	"github.com/carelink/carelink/internal/platform/middleware"
	"github.com/carelink/carelink/internal/platform/ocr"
)

var (
	// ErrNotFound is returned for an unknown patient, medication or symptom id.
	ErrNotFound = errors.New("not found")
	// ErrValidation is returned for a missing or invalid field.
	ErrValidation = errors.New("validation failed")
	// ErrUnauthorized is returned when no valid pharmacist session exists.
	ErrUnauthorized = errors.New("unauthorized")
)

// NoConsentMessage is shown to a pharmacist in place of patient data.
const NoConsentMessage = "Patient has not given consent to share data"

// HTTPError maps a service error onto the JSON error body the browser
// client expects. Unexpected errors are logged and reported as 500.
func HTTPError(c echo.Context, logger zerolog.Logger, err error) error {
	reqID := middleware.RequestIDFrom(c)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, body(err.Error())).SetInternal(err)
	case errors.Is(err, auth.ErrInvalidCredentials):
		return echo.NewHTTPError(http.StatusUnauthorized, body("Invalid credentials")).SetInternal(err)
	case errors.Is(err, ErrUnauthorized):
		return echo.NewHTTPError(http.StatusUnauthorized, body("Unauthorized")).SetInternal(err)
	case errors.Is(err, rules.ErrConsentDenied):
		logger.Warn().
			Str("request_id", reqID).
			Str("patient_id", c.Param("id")).
			Str("user_id", auth.UserIDFromContext(c.Request().Context())).
			Msg("record view denied: no consent")
		return echo.NewHTTPError(http.StatusForbidden, map[string]string{
			"error":   "No consent",
			"message": NoConsentMessage,
		}).SetInternal(err)
	case errors.Is(err, rules.ErrAccessDenied):
		return echo.NewHTTPError(http.StatusForbidden, body("Forbidden")).SetInternal(err)
	case errors.Is(err, ErrValidation), errors.Is(err, rules.ErrUnknownCondition):
		return echo.NewHTTPError(http.StatusBadRequest, body(err.Error())).SetInternal(err)
	case errors.Is(err, ocr.ErrNotConfigured):
		return echo.NewHTTPError(http.StatusServiceUnavailable, body("OCR service not configured")).SetInternal(err)
	case errors.Is(err, ocr.ErrUpstream):
		logger.Error().Err(err).Str("request_id", reqID).Msg("ocr request failed")
		return echo.NewHTTPError(http.StatusBadGateway, body("OCR failed")).SetInternal(err)
	}
	logger.Error().Err(err).Str("request_id", reqID).Str("path", c.Request().URL.Path).Msg("request failed")
	return echo.NewHTTPError(http.StatusInternalServerError, body("Internal server error")).SetInternal(err)
}

func body(msg string) map[string]string {
	return map[string]string{"error": msg}
}
