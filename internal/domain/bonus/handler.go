package bonus

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/houmon/houmon/internal/platform/apperr"
	"github.com/houmon/houmon/internal/platform/auth"
	"github.com/houmon/houmon/pkg/caldate"
	"github.com/houmon/houmon/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleBilling, auth.RoleNurse))
	read.GET("/bonus-definitions", h.List)
	read.GET("/bonus-definitions/effective", h.Effective, auth.RequireFacilityAccess("facility_id"))
	read.GET("/bonus-definitions/:id", h.Get)

	write := api.Group("", auth.RequireRole(auth.RoleAdmin))
	write.POST("/bonus-definitions", h.Create)
	write.PUT("/bonus-definitions/:id", h.Update)
	write.DELETE("/bonus-definitions/:id", h.Delete)
}

type definitionRequest struct {
	FacilityID      *uuid.UUID      `json:"facility_id"`
	BonusCode       string          `json:"bonus_code"`
	BonusName       string          `json:"bonus_name"`
	Description     *string         `json:"description"`
	InsuranceType   string          `json:"insurance_type"`
	PointsType      string          `json:"points_type"`
	FixedPoints     *int            `json:"fixed_points"`
	PointsConfig    json.RawMessage `json:"points_config"`
	PointsFormula   *string         `json:"points_formula"`
	ConditionType   string          `json:"condition_type"`
	ConditionParams json.RawMessage `json:"condition_params"`
	ConditionExpr   *string         `json:"condition_expr"`
	ValidFrom       string          `json:"valid_from"`
	ValidTo         string          `json:"valid_to"`
	IsActive        *bool           `json:"is_active"`
	DisplayOrder    int             `json:"display_order"`
}

func (r *definitionRequest) toDefinition() (*Definition, error) {
	from, err := caldate.Parse(r.ValidFrom)
	if err != nil {
		return nil, apperr.Invalid("valid_from", err.Error())
	}
	to, err := caldate.ParseOptional(r.ValidTo)
	if err != nil {
		return nil, apperr.Invalid("valid_to", err.Error())
	}
	d := &Definition{
		FacilityID:      r.FacilityID,
		BonusCode:       r.BonusCode,
		BonusName:       r.BonusName,
		Description:     r.Description,
		InsuranceType:   r.InsuranceType,
		PointsType:      r.PointsType,
		FixedPoints:     r.FixedPoints,
		PointsConfig:    r.PointsConfig,
		PointsFormula:   r.PointsFormula,
		ConditionType:   r.ConditionType,
		ConditionParams: r.ConditionParams,
		ConditionExpr:   r.ConditionExpr,
		ValidFrom:       from,
		ValidTo:         to,
		IsActive:        true,
		DisplayOrder:    r.DisplayOrder,
	}
	if r.IsActive != nil {
		d.IsActive = *r.IsActive
	}
	return d, nil
}

func writeError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "bonus definition not found")
	case errors.Is(err, ErrOverlappingDefinition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case isValidation(err):
		return apperr.ToHTTP(err)
	}
	return err
}

func (h *Handler) Create(c echo.Context) error {
	var req definitionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	d, err := req.toDefinition()
	if err != nil {
		return writeError(err)
	}
	if d.FacilityID != nil && !auth.CanAccessFacility(c.Request().Context(), d.FacilityID.String()) {
		return echo.NewHTTPError(http.StatusForbidden, "facility not accessible")
	}
	if err := h.svc.CreateDefinition(c.Request().Context(), d); err != nil {
		return writeError(err)
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) Update(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req definitionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	d, err := req.toDefinition()
	if err != nil {
		return writeError(err)
	}
	d.ID = id
	if err := h.svc.UpdateDefinition(c.Request().Context(), d); err != nil {
		return writeError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeactivateDefinition(c.Request().Context(), id); err != nil {
		return writeError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	d, err := h.svc.GetDefinition(c.Request().Context(), id)
	if err != nil {
		return writeError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := ListFilter{
		InsuranceType: c.QueryParam("insurance_type"),
		BonusCode:     c.QueryParam("bonus_code"),
		ActiveOnly:    c.QueryParam("active") == "true",
		GlobalOnly:    c.QueryParam("scope") == "global",
	}
	if fid := c.QueryParam("facility_id"); fid != "" {
		id, err := uuid.Parse(fid)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid facility_id")
		}
		f.FacilityID = &id
	}
	items, total, err := h.svc.ListDefinitions(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

// Effective lists the definitions the engine would evaluate for
// ?facility_id=&insurance_type=&date=.
func (h *Handler) Effective(c echo.Context) error {
	fid, err := uuid.Parse(c.QueryParam("facility_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid facility_id")
	}
	date, err := caldate.Parse(c.QueryParam("date"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	defs, err := h.svc.EffectiveDefinitions(c.Request().Context(), EffectiveQuery{
		FacilityID:    fid,
		InsuranceType: c.QueryParam("insurance_type"),
		Date:          date,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, defs)
}
