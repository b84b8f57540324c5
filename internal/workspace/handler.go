package workspace

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/Fiesterolml/gestioncitas-app/internal/domain/identity"
	"github.com/Fiesterolml/gestioncitas-app/internal/domain/scheduling"
	"github.com/Fiesterolml/gestioncitas-app/internal/platform/auth"
	"github.com/Fiesterolml/gestioncitas-app/internal/store"
	"github.com/Fiesterolml/gestioncitas-app/internal/transfer"
)

type Handler struct {
	manager  *Manager
	importer *transfer.Importer
	archiver *transfer.Archiver
}

// NewHandler wires the workspace endpoints. archiver may be nil when no
// backup bucket is configured.
func NewHandler(m *Manager, importer *transfer.Importer, archiver *transfer.Archiver) *Handler {
	return &Handler{manager: m, importer: importer, archiver: archiver}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/view", h.GetView)
	api.POST("/navigate", h.Navigate)
	api.POST("/session/signout", h.SignOut)

	api.POST("/patients/:id/select", h.SelectPatient)
	api.POST("/patients/:id/sessions", h.AppendSession)
	api.DELETE("/patients/:id", h.DeletePatient)
	api.POST("/patient-form", h.OpenPatientForm)
	api.PATCH("/patient-form", h.EditPatientForm)
	api.PUT("/patient-form/photo", h.SetPatientPhoto)
	api.POST("/patient-form/submit", h.SubmitPatientForm)
	api.POST("/patient-form/cancel", h.CancelPatientForm)

	api.DELETE("/appointments/:id", h.DeleteAppointment)
	api.POST("/appointment-form", h.OpenAppointmentForm)
	api.PATCH("/appointment-form", h.EditAppointmentForm)
	api.POST("/appointment-form/submit", h.SubmitAppointmentForm)
	api.POST("/appointment-form/cancel", h.CancelAppointmentForm)

	api.GET("/export", h.Export)
	api.POST("/backups", h.Backup)
	api.POST("/import", h.Import)
}

// workspace signs the request's principal in on first use.
func (h *Handler) workspace(c echo.Context) (*Workspace, error) {
	ctx := c.Request().Context()
	p, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "sign-in required")
	}
	w, err := h.manager.SignIn(ctx, p)
	if err != nil {
		return nil, httpError(err)
	}
	return w, nil
}

// Topic resolves the websocket topic for the caller, opening the workspace
// so snapshots start flowing.
func (h *Handler) Topic(c echo.Context) (string, error) {
	w, err := h.workspace(c)
	if err != nil {
		return "", err
	}
	return Topic(w.Namespace().PrincipalID), nil
}

func confirmed(c echo.Context) bool {
	ok, _ := strconv.ParseBool(c.QueryParam("confirm"))
	return ok
}

// httpError maps domain errors to user-visible responses.
func httpError(err error) error {
	var (
		he *echo.HTTPError
		pe *transfer.ImportParseError
		we *store.WriteError
	)
	switch {
	case errors.As(err, &he):
		return he
	case errors.Is(err, auth.ErrAuth):
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	case errors.Is(err, identity.ErrImageTooLarge):
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, err.Error())
	case errors.As(err, &pe),
		errors.Is(err, identity.ErrNameRequired),
		errors.Is(err, identity.ErrInvalidEmail),
		errors.Is(err, identity.ErrInvalidAge),
		errors.Is(err, identity.ErrInvalidStatus),
		errors.Is(err, identity.ErrInvalidImage),
		errors.Is(err, identity.ErrUnknownField),
		errors.Is(err, identity.ErrEmptyNote),
		errors.Is(err, scheduling.ErrPatientRequired),
		errors.Is(err, scheduling.ErrInvalidDate),
		errors.Is(err, scheduling.ErrInvalidTime),
		errors.Is(err, scheduling.ErrUnknownField),
		errors.Is(err, ErrUnknownScreen),
		errors.Is(err, store.ErrInvalidNamespace):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrRecordNotFound),
		errors.Is(err, scheduling.ErrPatientNotFound),
		errors.Is(err, store.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrConfirmationRequired):
		return echo.NewHTTPError(http.StatusPreconditionRequired, err.Error())
	case errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrSubmitDisabled),
		errors.Is(err, scheduling.ErrPatientInactive),
		errors.Is(err, transfer.ErrNothingToExport):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrClosed):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &we):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

// -- View --

func (h *Handler) GetView(c echo.Context) error {
	w, err := h.workspace(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, w.View(c.QueryParam("q")))
}

func (h *Handler) Navigate(c echo.Context) error {
	w, err := h.workspace(c)
	if err != nil {
		return err
	}
	var req struct {
		Screen Screen `json:"screen"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid screen")
	}
	v, err := w.Navigate(req.Screen)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) SignOut(c echo.Context) error {
	p, ok := auth.PrincipalFromContext(c.Request().Context())
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "sign-in required")
	}
	h.manager.SignOut(p.ID)
	return c.NoContent(http.StatusNoContent)
}

// -- Patients --

func (h *Handler) SelectPatient(c echo.Context) error {
	w, err := h.workspace(c)
	if err != nil {
		return err
	}
	v, err := w.SelectPatient(c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) AppendSession(c echo.Context) error {
	w, err := h.workspace(c)
	if err != nil {
		return err
	}
	var req struct {
		Note string `json:"note"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sess, err := w.AppendSession(c.Request().Context(), c.Param("id"), req.Note)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, sess)
}

func (h *Handler) DeletePatient(c echo.Context) error {
	w, err := h.workspace(c)
	if err != nil {
		return err
	}
	v, err := w.DeletePatient(c.Request().Context(), c.Param("id"), confirmed(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, v)
}

type openFormRequest struct {
	ID string `json:"id"`
}

func (h *Handler) OpenPatientForm(c echo.Context) error {
	w, err := h.workspace(c)
	if err != nil {
		return err
	}
	var req openFormRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	v, err := w.OpenPatientForm(req.ID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) EditPatientForm(c echo.Context) error {
	w, err := h.workspace(c)
	if err != nil {
		return err
	}
	var values map[string]string
	if err := c.Bind(&values); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	v, err := w.EditPatientForm(values)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) SetPatientPhoto(c echo.Context) error {
	w, err := h.workspace(c)
	if err != nil {
		return err
	}
	limit := int64(w.maxPhoto)
	if limit <= 0 {
		limit = identity.DefaultMaxPhotoBytes
	}
	data, err := io.ReadAll(io.LimitReader(c.Request().Body, limit+1))
	if err != nil {
		return httpError(err)
	}
	v, err := w.SetPatientPhoto(c.Request().Header.Get(echo.HeaderContentType), data)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) SubmitPatientForm(c echo.Context) error {
	w, err := h.workspace(c)
	if err != nil {
		return err
	}
	v, err := w.SubmitPatientForm(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) CancelPatientForm(c echo.Context) error {
	w, err := h.workspace(c)
	if err != nil {
		return err
	}
	v, err := w.CancelPatientForm()
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, v)
}

// -- Appointments --

func (h *Handler) DeleteAppointment(c echo.Context) error {
	w, err := h.workspace(c)
	if err != nil {
		return err
	}
	v, err := w.DeleteAppointment(c.Request().Context(), c.Param("id"), confirmed(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) OpenAppointmentForm(c echo.Context) error {
	w, err := h.workspace(c)
	if err != nil {
		return err
	}
	var req openFormRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	v, err := w.OpenAppointmentForm(req.ID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) EditAppointmentForm(c echo.Context) error {
	w, err := h.workspace(c)
	if err != nil {
		return err
	}
	var values map[string]string
	if err := c.Bind(&values); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	v, err := w.EditAppointmentForm(values)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) SubmitAppointmentForm(c echo.Context) error {
	w, err := h.workspace(c)
	if err != nil {
		return err
	}
	v, err := w.SubmitAppointmentForm(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) CancelAppointmentForm(c echo.Context) error {
	w, err := h.workspace(c)
	if err != nil {
		return err
	}
	v, err := w.CancelAppointmentForm()
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, v)
}

// -- Bulk transfer --

func (h *Handler) Export(c echo.Context) error {
	w, err := h.workspace(c)
	if err != nil {
		return err
	}
	b, err := w.Export()
	if err != nil {
		return httpError(err)
	}
	data, err := b.Encode()
	if err != nil {
		return httpError(err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition,
		`attachment; filename="`+transfer.FileName(w.now())+`"`)
	return c.Blob(http.StatusOK, "application/json; charset=utf-8", data)
}

func (h *Handler) Backup(c echo.Context) error {
	if h.archiver == nil {
		return echo.NewHTTPError(http.StatusNotFound, transfer.ErrArchiveNotConfigured.Error())
	}
	w, err := h.workspace(c)
	if err != nil {
		return err
	}
	b, err := w.Export()
	if err != nil {
		return httpError(err)
	}
	key, err := h.archiver.Archive(c.Request().Context(), w.Namespace().PrincipalID, b, w.now())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, map[string]string{"key": key})
}

// Import previews the file unless confirm=true, in which case every record
// is upserted under its original id.
func (h *Handler) Import(c echo.Context) error {
	w, err := h.workspace(c)
	if err != nil {
		return err
	}
	f, err := transfer.Parse(c.Request().Body)
	if err != nil {
		return httpError(err)
	}
	if !confirmed(c) {
		return c.JSON(http.StatusOK, f.Preview())
	}
	report, err := h.importer.Import(c.Request().Context(), w.Namespace(), f)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, report)
}
