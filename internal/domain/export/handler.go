package export

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/houmon/houmon/internal/domain/master"
	"github.com/houmon/houmon/internal/domain/receipt"
	"github.com/houmon/houmon/internal/platform/apperr"
	"github.com/houmon/houmon/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/exports", auth.RequireRole(auth.RoleBilling))
	g.GET("/receipts", h.Period, auth.RequireFacilityAccess("facility_id"))
	g.GET("/receipts/:id", h.Receipt)
}

func writeError(err error) error {
	var (
		nr *NotReadyError
		ve *apperr.ValidationError
	)
	switch {
	case errors.As(err, &nr):
		return echo.NewHTTPError(http.StatusConflict, map[string]interface{}{
			"message": "receipts are not ready for export",
			"blocked": nr.Blocked,
		})
	case errors.Is(err, ErrNoReceipts):
		return echo.NewHTTPError(http.StatusNotFound, "no receipts for the period")
	case errors.Is(err, receipt.ErrNotFound), errors.Is(err, master.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "receipt not found")
	case errors.As(err, &ve):
		return apperr.ToHTTP(err)
	}
	return err
}

var contentTypes = map[string]string{
	FormatCSV:   "text/csv; charset=Shift_JIS",
	FormatExcel: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

// queryFormat reads ?format=, defaulting to CSV.
func queryFormat(c echo.Context) (string, error) {
	format := c.QueryParam("format")
	if format == "" {
		format = FormatCSV
	}
	if _, ok := contentTypes[format]; !ok {
		return "", echo.NewHTTPError(http.StatusBadRequest, "format must be csv or xlsx")
	}
	return format, nil
}

// send renders b fully before writing headers, so a failed build still
// produces a proper error response.
func send(c echo.Context, b *Batch, format string) error {
	var (
		buf bytes.Buffer
		err error
	)
	if format == FormatExcel {
		err = BuildExcel(&buf, b)
	} else {
		err = BuildCSV(&buf, b)
	}
	if err != nil {
		return writeError(err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf("attachment; filename=%q", b.Filename(format)))
	return c.Blob(http.StatusOK, contentTypes[format], buf.Bytes())
}

func (h *Handler) Receipt(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	format, err := queryFormat(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	r, err := h.svc.Lookup(ctx, id)
	if err != nil {
		return writeError(err)
	}
	if !auth.CanAccessFacility(ctx, r.FacilityID.String()) {
		return echo.NewHTTPError(http.StatusNotFound, "receipt not found")
	}
	b, err := h.svc.ReceiptBatch(ctx, r)
	if err != nil {
		return writeError(err)
	}
	return send(c, b, format)
}

func (h *Handler) Period(c echo.Context) error {
	facilityID, err := uuid.Parse(c.QueryParam("facility_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "facility_id is required")
	}
	year, err := strconv.Atoi(c.QueryParam("year"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid year")
	}
	month, err := strconv.Atoi(c.QueryParam("month"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid month")
	}
	format, err := queryFormat(c)
	if err != nil {
		return err
	}
	b, err := h.svc.PeriodBatch(c.Request().Context(), facilityID, year, month, c.QueryParam("insurance_type"))
	if err != nil {
		return writeError(err)
	}
	return send(c, b, format)
}
