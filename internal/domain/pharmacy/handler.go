package pharmacy

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/carelink/carelink/internal/domain/patient"
	"github.com/carelink/carelink/internal/domain/rules"
	"github.com/carelink/carelink/internal/platform/auth"
	"github.com/carelink/carelink/pkg/pagination"
)

type Handler struct {
	svc    *Service
	logger zerolog.Logger
}

func NewHandler(svc *Service, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// RegisterRoutes mounts /pharm on api. Login runs behind loginLimit; every
// other route needs a pharmacist token checked by authn.
func (h *Handler) RegisterRoutes(api *echo.Group, authn, loginLimit echo.MiddlewareFunc) {
	pharm := api.Group("/pharm")
	pharm.POST("/login", h.Login, loginLimit)

	g := pharm.Group("", authn, auth.RequireRole(rules.RolePharmacist))
	g.POST("/logout", h.Logout)
	g.GET("/dashboard", h.Dashboard)
	g.GET("/patient/:id", h.Review)
	g.GET("/patient/:id/report.pdf", h.ReviewReport)
	g.POST("/patient/:id/mark_review", h.MarkReview)
	g.POST("/patient/:id/care_plan", h.SetCarePlan)
}

func (h *Handler) fail(c echo.Context, err error) error {
	return patient.HTTPError(c, h.logger, err)
}

// viewer is the pharmacist named by the verified token.
func viewer(c echo.Context) rules.Viewer {
	return rules.Viewer{
		Role:    rules.RolePharmacist,
		ActorID: auth.UserIDFromContext(c.Request().Context()),
	}
}

func (h *Handler) Login(c echo.Context) error {
	var in struct {
		Username string `json:"username" form:"username"`
		Password string `json:"password" form:"password"`
	}
	if err := c.Bind(&in); err != nil {
		return h.fail(c, fmt.Errorf("%w: invalid login body", patient.ErrValidation))
	}
	tok, err := h.svc.Login(c.Request().Context(), in.Username, in.Password)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"ok": true, "token": tok.Token, "expires_at": tok.ExpiresAt})
}

func (h *Handler) Logout(c echo.Context) error {
	ctx := c.Request().Context()
	jti, exp := auth.TokenFromContext(ctx)
	if err := h.svc.Logout(ctx, jti, exp); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"ok": true})
}

func (h *Handler) Dashboard(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.Dashboard(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg).WithLinks("/api/pharm/dashboard"))
}

func (h *Handler) Review(c echo.Context) error {
	rv, err := h.svc.Review(c.Request().Context(), viewer(c), c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, rv)
}

func (h *Handler) ReviewReport(c echo.Context) error {
	var buf bytes.Buffer
	id := c.Param("id")
	if err := h.svc.ReviewReport(c.Request().Context(), viewer(c), id, &buf); err != nil {
		return h.fail(c, err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf("attachment; filename=%q", "mtm_review_"+id+".pdf"))
	return c.Blob(http.StatusOK, "application/pdf", buf.Bytes())
}

func (h *Handler) MarkReview(c echo.Context) error {
	at, err := h.svc.MarkReview(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"ok": true, "last_med_review": at})
}

func (h *Handler) SetCarePlan(c echo.Context) error {
	var in struct {
		CarePlan string `json:"care_plan" form:"care_plan"`
	}
	if err := c.Bind(&in); err != nil {
		return h.fail(c, fmt.Errorf("%w: invalid care plan", patient.ErrValidation))
	}
	plan, err := h.svc.SetCarePlan(c.Request().Context(), c.Param("id"), in.CarePlan)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"ok": true, "care_plan": plan})
}
