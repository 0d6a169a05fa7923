package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// RequireRole lets a request through when its token carries any of roles.
// It must run after JWTMiddleware.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	need := strings.Join(roles, " or ")
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			for _, role := range roles {
				if HasRole(ctx, role) {
					return next(c)
				}
			}
			return echo.NewHTTPError(http.StatusForbidden, map[string]string{"error": "Forbidden"}).
				SetInternal(fmt.Errorf("role %s required, token has %v", need, RolesFromContext(ctx)))
		}
	}
}
