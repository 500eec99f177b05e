package patient

import (
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinic/records/internal/platform/middleware"
)

const (
	notFoundMessage    = "Patient not found"
	invalidBodyMessage = "invalid request body"
	undoWarning        = `299 - "undo-delete removes the record; restore is not supported"`
)

type Handler struct {
	svc      *Service
	exporter *Exporter
	logger   zerolog.Logger
}

func NewHandler(svc *Service, exporter *Exporter, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, exporter: exporter, logger: logger}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/patients")
	g.POST("", h.CreatePatient)
	g.GET("/all", h.ListPatients)
	g.GET("/all/csv", h.ExportCSV)
	g.GET("/all/xlsx", h.ExportXLSX)
	g.GET("/search", h.SearchPatients)
	g.GET("/vocabulary", h.Vocabulary)
	g.PUT("/:id", h.UpdatePatient)
	g.DELETE("/:id", h.DeletePatient)
	g.POST("/undo-delete/:id", h.UndoDelete)
}

func (h *Handler) CreatePatient(c echo.Context) error {
	var p Patient
	if err := c.Bind(&p); err != nil {
		return bindError(err)
	}
	if err := h.svc.CreatePatient(c.Request().Context(), &p); err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) ListPatients(c echo.Context) error {
	items, err := h.svc.ListPatients(c.Request().Context())
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) SearchPatients(c echo.Context) error {
	criteria := SearchCriteria{
		FirstName:  c.QueryParam("firstName"),
		DoctorName: c.QueryParam("doctorName"),
	}
	items, err := h.svc.SearchPatients(c.Request().Context(), criteria)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) Vocabulary(c echo.Context) error {
	return c.JSON(http.StatusOK, MedicalHistoryVocabulary)
}

func (h *Handler) UpdatePatient(c echo.Context) error {
	var patch PatientPatch
	if err := c.Bind(&patch); err != nil {
		return bindError(err)
	}
	p, err := h.svc.UpdatePatient(c.Request().Context(), c.Param("id"), &patch)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) DeletePatient(c echo.Context) error {
	p, err := h.svc.DeletePatient(c.Request().Context(), c.Param("id"))
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, map[string]string{
		"message": fmt.Sprintf("Patient %s deleted successfully", p.FirstName),
	})
}

// UndoDelete serves the legacy undo route. Deletes are permanent, so it
// deletes the record like DeletePatient and says so.
func (h *Handler) UndoDelete(c echo.Context) error {
	id := c.Param("id")
	p, err := h.svc.DeletePatient(c.Request().Context(), id)
	if err != nil {
		return errorResponse(err)
	}

	rid, _ := c.Get("request_id").(string)
	h.logger.Warn().
		Str("request_id", rid).
		Str("patient_id", id).
		Msg("undo-delete called; record deleted, restore is not supported")

	c.Response().Header().Set("Warning", undoWarning)
	return c.JSON(http.StatusOK, map[string]string{
		"message": fmt.Sprintf("Patient %s deleted; restore is not supported", p.FirstName),
	})
}

func (h *Handler) ExportCSV(c echo.Context) error {
	return h.export(c, FormatCSV)
}

func (h *Handler) ExportXLSX(c echo.Context) error {
	return h.export(c, FormatXLSX)
}

// export writes the collection to a temporary file, streams it back as an
// attachment and removes it.
func (h *Handler) export(c echo.Context, format Format) error {
	path, n, err := h.exporter.WriteFile(c.Request().Context(), format)
	if err != nil {
		return errorResponse(err)
	}
	defer func() {
		if err := os.Remove(path); err != nil {
			h.logger.Warn().Err(err).Str("path", path).Msg("remove export file")
		}
	}()

	f, err := os.Open(path)
	if err != nil {
		return errorResponse(fmt.Errorf("open export file: %w", err))
	}
	defer f.Close()

	h.logger.Info().
		Str("format", string(format)).
		Int("records", n).
		Msg("patients exported")

	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf("attachment; filename=%q", format.FileName()))
	return c.Stream(http.StatusOK, format.ContentType(), f)
}

// errorResponse maps service errors onto HTTP errors. Anything unrecognised
// becomes a 500 whose cause is only logged.
func errorResponse(err error) error {
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		return echo.NewHTTPError(http.StatusBadRequest, map[string]interface{}{
			"error":  ErrValidation.Error(),
			"fields": ve.Fields,
		}).SetInternal(err)
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, notFoundMessage).SetInternal(err)
	case errors.Is(err, ErrSearchCriterion):
		return echo.NewHTTPError(http.StatusBadRequest, ErrSearchCriterion.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, middleware.ServerErrorMessage).SetInternal(err)
}

// bindError reports a malformed body as 400, keeping a 413 raised by the body
// limit while the body was read.
func bindError(err error) error {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		if he.Code == http.StatusRequestEntityTooLarge {
			return he
		}
		if inner, ok := he.Internal.(*echo.HTTPError); ok && inner.Code == http.StatusRequestEntityTooLarge {
			return inner
		}
	}
	return echo.NewHTTPError(http.StatusBadRequest, invalidBodyMessage).SetInternal(err)
}
