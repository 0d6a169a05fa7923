package patient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/carelink/carelink/internal/domain/rules"
	"github.com/carelink/carelink/internal/platform/ocr"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type Handler struct {
	svc    *Service
	logger zerolog.Logger
}

func NewHandler(svc *Service, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// RegisterRoutes mounts the patient routes on api (the /api group). The
// record owner named by the path is the viewer.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/patient/:id")
	g.GET("", h.GetRecord)
	g.POST("/bp", h.AddReading)
	g.GET("/readings.xlsx", h.ExportReadings)
	g.POST("/med", h.AddMedication)
	g.DELETE("/med/:medID", h.DeleteMedication)
	g.POST("/symptom", h.AddSymptom)
	g.DELETE("/symptom/:symptomID", h.DeleteSymptom)
	g.POST("/conditions", h.SetConditions)
	g.POST("/consent", h.SetConsent)
	g.POST("/scan_med", h.ScanMedication)
}

func (h *Handler) fail(c echo.Context, err error) error {
	return HTTPError(c, h.logger, err)
}

func ownerViewer(c echo.Context) rules.Viewer {
	return rules.Viewer{Role: rules.RolePatient, ActorID: c.Param("id")}
}

func (h *Handler) GetRecord(c echo.Context) error {
	rec, err := h.svc.GetRecord(c.Request().Context(), ownerViewer(c), c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) AddReading(c echo.Context) error {
	in, err := bindReading(c)
	if err != nil {
		return h.fail(c, err)
	}
	rd, err := h.svc.AddReading(c.Request().Context(), c.Param("id"), in)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"ok": true, "reading": rd})
}

// bindReading reads a JSON body or the HTML form. Blank form fields are
// treated as missing.
func bindReading(c echo.Context) (ReadingInput, error) {
	var in ReadingInput
	if isJSON(c) {
		if err := json.NewDecoder(c.Request().Body).Decode(&in); err != nil {
			return in, fmt.Errorf("%w: invalid reading", ErrValidation)
		}
		return in, nil
	}
	for _, f := range []struct {
		name string
		dst  **int
	}{{"systolic", &in.Systolic}, {"diastolic", &in.Diastolic}, {"heart_rate", &in.HeartRate}} {
		raw := strings.TrimSpace(c.FormValue(f.name))
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return in, fmt.Errorf("%w: %s must be a number", ErrValidation, f.name)
		}
		*f.dst = &v
	}
	return in, nil
}

func isJSON(c echo.Context) bool {
	return strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEApplicationJSON)
}

func (h *Handler) ExportReadings(c echo.Context) error {
	var buf bytes.Buffer
	id := c.Param("id")
	if err := h.svc.ExportReadings(c.Request().Context(), id, &buf); err != nil {
		return h.fail(c, err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf("attachment; filename=%q", "bp_log_"+id+".xlsx"))
	return c.Blob(http.StatusOK, xlsxContentType, buf.Bytes())
}

func (h *Handler) AddMedication(c echo.Context) error {
	var in MedicationInput
	if err := c.Bind(&in); err != nil {
		return h.fail(c, fmt.Errorf("%w: invalid medication", ErrValidation))
	}
	m, err := h.svc.AddMedication(c.Request().Context(), c.Param("id"), in)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"ok": true, "medication": m})
}

func (h *Handler) DeleteMedication(c echo.Context) error {
	medID, err := uuid.Parse(c.Param("medID"))
	if err != nil {
		return h.fail(c, fmt.Errorf("medication %w", ErrNotFound))
	}
	if err := h.svc.DeleteMedication(c.Request().Context(), c.Param("id"), medID); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) AddSymptom(c echo.Context) error {
	var in struct {
		Note string `json:"note" form:"note"`
	}
	if err := c.Bind(&in); err != nil {
		return h.fail(c, fmt.Errorf("%w: invalid symptom", ErrValidation))
	}
	sn, err := h.svc.AddSymptom(c.Request().Context(), c.Param("id"), in.Note)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"ok": true, "symptom": sn})
}

func (h *Handler) DeleteSymptom(c echo.Context) error {
	symptomID, err := uuid.Parse(c.Param("symptomID"))
	if err != nil {
		return h.fail(c, fmt.Errorf("symptom %w", ErrNotFound))
	}
	if err := h.svc.DeleteSymptom(c.Request().Context(), c.Param("id"), symptomID); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// SetConditions accepts {"conditions": [...]} or repeated form values. A
// comma-separated value is split into tags.
func (h *Handler) SetConditions(c echo.Context) error {
	var in struct {
		Conditions []string `json:"conditions" form:"conditions"`
	}
	if err := c.Bind(&in); err != nil {
		return h.fail(c, fmt.Errorf("%w: conditions must be a list of tags", ErrValidation))
	}
	var tags []string
	for _, v := range in.Conditions {
		tags = append(tags, strings.Split(v, ",")...)
	}
	set, err := h.svc.SetConditions(c.Request().Context(), c.Param("id"), tags)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"ok": true, "conditions": set})
}

func (h *Handler) SetConsent(c echo.Context) error {
	var raw any
	if isJSON(c) {
		var in struct {
			Consent any `json:"consent"`
		}
		if err := json.NewDecoder(c.Request().Body).Decode(&in); err != nil && err != io.EOF {
			return h.fail(c, fmt.Errorf("%w: invalid body", ErrValidation))
		}
		raw = in.Consent
	} else {
		raw = c.FormValue("consent")
	}

	consent, err := ParseConsent(raw)
	if err != nil {
		return h.fail(c, err)
	}
	if err := h.svc.SetConsent(c.Request().Context(), c.Param("id"), consent); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"ok": true, "consent": consent})
}

func (h *Handler) ScanMedication(c echo.Context) error {
	fh, err := c.FormFile("image")
	if err != nil {
		return h.fail(c, fmt.Errorf("%w: image is required", ErrValidation))
	}
	f, err := fh.Open()
	if err != nil {
		return h.fail(c, fmt.Errorf("open upload: %w", err))
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxScanImageBytes+1))
	if err != nil {
		return h.fail(c, fmt.Errorf("read upload: %w", err))
	}
	contentType := fh.Header.Get(echo.HeaderContentType)
	if contentType == "" || contentType == echo.MIMEOctetStream {
		contentType = http.DetectContentType(data)
	}

	label, err := h.svc.ScanMedication(c.Request().Context(), c.Param("id"), ocr.Image{
		Filename:    fh.Filename,
		ContentType: contentType,
		Data:        data,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, label)
}
