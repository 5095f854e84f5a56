package receipt

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/houmon/houmon/internal/platform/apperr"
	"github.com/houmon/houmon/internal/platform/auth"
	"github.com/houmon/houmon/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole(auth.RoleBilling))
	g.GET("/receipts", h.List, auth.RequireFacilityAccess("facility_id"))
	g.POST("/receipts/generate", h.Generate)
	g.GET("/receipts/csv-validation", h.ValidateCSV, auth.RequireFacilityAccess("facility_id"))
	g.GET("/receipts/:id", h.Get)
	g.POST("/receipts/:id/recalculate", h.Recalculate)
	g.POST("/receipts/:id/validate", h.Validate)
	g.POST("/receipts/:id/finalize", h.Finalize)
	g.POST("/receipts/:id/reopen", h.Reopen)
	g.DELETE("/receipts/:id", h.Delete)

	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/receipts/:id/mark-sent", h.MarkSent)
}

func writeError(err error) error {
	var ve *apperr.ValidationError
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "receipt not found")
	case errors.As(err, &ve):
		return apperr.ToHTTP(err)
	}
	return err
}

// writeTransition maps a lifecycle result to a response. Rejections are
// conflicts, except validation errors (422) and a missing receipt (404).
func writeTransition(c echo.Context, res *TransitionResult, okStatus int) error {
	if res.OK() {
		if okStatus == http.StatusNoContent {
			return c.NoContent(okStatus)
		}
		return c.JSON(okStatus, res.Receipt)
	}
	status := http.StatusConflict
	switch res.Rejection.Code {
	case RejectNotFound:
		status = http.StatusNotFound
	case RejectHasErrors:
		status = http.StatusUnprocessableEntity
	}
	return c.JSON(status, res)
}

// load fetches the receipt named by :id and checks facility access.
func (h *Handler) load(c echo.Context) (*Receipt, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	r, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return nil, writeError(err)
	}
	if !auth.CanAccessFacility(c.Request().Context(), r.FacilityID.String()) {
		return nil, echo.NewHTTPError(http.StatusNotFound, "receipt not found")
	}
	return r, nil
}

type generateRequest struct {
	FacilityID    uuid.UUID `json:"facility_id"`
	Year          int       `json:"year"`
	Month         int       `json:"month"`
	InsuranceType string    `json:"insurance_type"`
}

func (h *Handler) Generate(c echo.Context) error {
	var req generateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.FacilityID == uuid.Nil {
		return apperr.ToHTTP(apperr.Invalid("facility_id", "is required"))
	}
	if !auth.CanAccessFacility(c.Request().Context(), req.FacilityID.String()) {
		return echo.NewHTTPError(http.StatusForbidden, "facility not accessible")
	}
	res, err := h.svc.GenerateReceiptsForMonth(c.Request().Context(), req.FacilityID, req.Year, req.Month, req.InsuranceType)
	if err != nil {
		return writeError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) Get(c echo.Context) error {
	r, err := h.load(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) Recalculate(c echo.Context) error {
	r, err := h.load(c)
	if err != nil {
		return err
	}
	res, err := h.svc.RecalculateReceipt(c.Request().Context(), r.ID)
	if err != nil {
		return writeError(err)
	}
	return writeTransition(c, res, http.StatusOK)
}

func (h *Handler) Validate(c echo.Context) error {
	r, err := h.load(c)
	if err != nil {
		return err
	}
	v, err := h.svc.ValidateReceipt(c.Request().Context(), r.ID)
	if err != nil {
		return writeError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) Finalize(c echo.Context) error {
	r, err := h.load(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	res, err := h.svc.FinalizeReceipt(ctx, r.ID, auth.UserIDFromContext(ctx))
	if err != nil {
		return writeError(err)
	}
	return writeTransition(c, res, http.StatusOK)
}

func (h *Handler) Reopen(c echo.Context) error {
	r, err := h.load(c)
	if err != nil {
		return err
	}
	res, err := h.svc.ReopenReceipt(c.Request().Context(), r.ID)
	if err != nil {
		return writeError(err)
	}
	return writeTransition(c, res, http.StatusOK)
}

func (h *Handler) MarkSent(c echo.Context) error {
	r, err := h.load(c)
	if err != nil {
		return err
	}
	res, err := h.svc.MarkSent(c.Request().Context(), r.ID)
	if err != nil {
		return writeError(err)
	}
	return writeTransition(c, res, http.StatusOK)
}

func (h *Handler) Delete(c echo.Context) error {
	r, err := h.load(c)
	if err != nil {
		return err
	}
	res, err := h.svc.DeleteReceipt(c.Request().Context(), r.ID)
	if err != nil {
		return writeError(err)
	}
	return writeTransition(c, res, http.StatusNoContent)
}

func queryUUID(c echo.Context, name string) (*uuid.UUID, error) {
	v := c.QueryParam(name)
	if v == "" {
		return nil, nil
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return &id, nil
}

func queryInt(c echo.Context, name string) (int, error) {
	v := c.QueryParam(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return n, nil
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	var (
		f   ListFilter
		err error
	)
	if f.FacilityID, err = queryUUID(c, "facility_id"); err != nil {
		return err
	}
	if f.PatientID, err = queryUUID(c, "patient_id"); err != nil {
		return err
	}
	if f.FacilityID == nil && !auth.HasRole(auth.RolesFromContext(c.Request().Context()), auth.RoleAdmin) {
		return echo.NewHTTPError(http.StatusBadRequest, "facility_id is required")
	}
	if f.Year, err = queryInt(c, "year"); err != nil {
		return err
	}
	if f.Month, err = queryInt(c, "month"); err != nil {
		return err
	}
	f.InsuranceType = c.QueryParam("insurance_type")
	f.State = c.QueryParam("state")

	items, total, err := h.svc.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) ValidateCSV(c echo.Context) error {
	facilityID, err := queryUUID(c, "facility_id")
	if err != nil {
		return err
	}
	patientID, err := queryUUID(c, "patient_id")
	if err != nil {
		return err
	}
	if facilityID == nil || patientID == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "facility_id and patient_id are required")
	}
	year, err := queryInt(c, "year")
	if err != nil {
		return err
	}
	month, err := queryInt(c, "month")
	if err != nil {
		return err
	}
	res, err := h.svc.ValidateCsvExport(c.Request().Context(), *facilityID, *patientID, year, month)
	if err != nil {
		return writeError(err)
	}
	return c.JSON(http.StatusOK, res)
}
