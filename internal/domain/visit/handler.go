package visit

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/houmon/houmon/internal/platform/apperr"
	"github.com/houmon/houmon/internal/platform/auth"
	"github.com/houmon/houmon/internal/platform/lock"
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
	g := api.Group("", auth.RequireRole(auth.RoleNurse, auth.RoleBilling))
	g.GET("/nursing-records", h.List, auth.RequireFacilityAccess("facility_id"))
	g.POST("/nursing-records", h.Create)
	g.POST("/nursing-records/preview-points", h.Preview)
	g.GET("/nursing-records/:id", h.Get)
	g.PUT("/nursing-records/:id", h.Update)
	g.DELETE("/nursing-records/:id", h.Delete)
	g.GET("/nursing-records/:id/bonus-history", h.History)
}

type recordRequest struct {
	FacilityID           uuid.UUID  `json:"facility_id"`
	PatientID            uuid.UUID  `json:"patient_id"`
	NurseID              *uuid.UUID `json:"nurse_id"`
	VisitDate            string     `json:"visit_date"`
	ActualStartTime      *time.Time `json:"actual_start_time"`
	ActualEndTime        *time.Time `json:"actual_end_time"`
	Status               string     `json:"status"`
	ServiceCodeID        *uuid.UUID `json:"service_code_id"`
	EmergencyVisitReason *string    `json:"emergency_visit_reason"`
	MultipleVisitReason  *string    `json:"multiple_visit_reason"`
	IsMultipleStaff      bool       `json:"is_multiple_staff"`
	IsFirstVisitOfPlan   bool       `json:"is_first_visit_of_plan"`
	IsDischargeDateVisit bool       `json:"is_discharge_date_visit"`
	IsTerminalCare       bool       `json:"is_terminal_care"`
	// ExistingRecordID is read by preview-points only.
	ExistingRecordID *uuid.UUID `json:"existing_record_id"`
}

func (r *recordRequest) toRecord() (*NursingRecord, error) {
	date, err := caldate.Parse(r.VisitDate)
	if err != nil {
		return nil, apperr.Invalid("visit_date", err.Error())
	}
	return &NursingRecord{
		FacilityID:           r.FacilityID,
		PatientID:            r.PatientID,
		NurseID:              r.NurseID,
		VisitDate:            date,
		ActualStartTime:      r.ActualStartTime,
		ActualEndTime:        r.ActualEndTime,
		Status:               r.Status,
		ServiceCodeID:        r.ServiceCodeID,
		EmergencyVisitReason: emptyToNil(r.EmergencyVisitReason),
		MultipleVisitReason:  emptyToNil(r.MultipleVisitReason),
		IsMultipleStaff:      r.IsMultipleStaff,
		IsFirstVisitOfPlan:   r.IsFirstVisitOfPlan,
		IsDischargeDateVisit: r.IsDischargeDateVisit,
		IsTerminalCare:       r.IsTerminalCare,
	}, nil
}

func emptyToNil(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}

func writeError(err error) error {
	var ve *apperr.ValidationError
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "nursing record not found")
	case errors.Is(err, lock.ErrNotAcquired):
		return echo.NewHTTPError(http.StatusConflict, "another change to this patient's visits is in progress, retry")
	case errors.As(err, &ve):
		return apperr.ToHTTP(err)
	}
	return err
}

func (h *Handler) bind(c echo.Context) (*recordRequest, *NursingRecord, error) {
	var req recordRequest
	if err := c.Bind(&req); err != nil {
		return nil, nil, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rec, err := req.toRecord()
	if err != nil {
		return nil, nil, writeError(err)
	}
	return &req, rec, nil
}

func (h *Handler) Create(c echo.Context) error {
	_, rec, err := h.bind(c)
	if err != nil {
		return err
	}
	if !auth.CanAccessFacility(c.Request().Context(), rec.FacilityID.String()) {
		return echo.NewHTTPError(http.StatusForbidden, "facility not accessible")
	}
	if err := h.svc.Create(c.Request().Context(), rec); err != nil {
		return writeError(err)
	}
	return c.JSON(http.StatusCreated, rec)
}

func (h *Handler) Preview(c echo.Context) error {
	req, rec, err := h.bind(c)
	if err != nil {
		return err
	}
	if !auth.CanAccessFacility(c.Request().Context(), rec.FacilityID.String()) {
		return echo.NewHTTPError(http.StatusForbidden, "facility not accessible")
	}
	if req.ExistingRecordID != nil {
		rec.ID = *req.ExistingRecordID
	}
	res, err := h.svc.PreviewPoints(c.Request().Context(), rec, rec.FacilityID, req.ExistingRecordID)
	if err != nil {
		return writeError(err)
	}
	return c.JSON(http.StatusOK, res)
}

// load fetches the record named by :id and checks facility access.
func (h *Handler) load(c echo.Context) (*NursingRecord, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	rec, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return nil, writeError(err)
	}
	if !auth.CanAccessFacility(c.Request().Context(), rec.FacilityID.String()) {
		return nil, echo.NewHTTPError(http.StatusNotFound, "nursing record not found")
	}
	return rec, nil
}

func (h *Handler) Get(c echo.Context) error {
	rec, err := h.load(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) Update(c echo.Context) error {
	existing, err := h.load(c)
	if err != nil {
		return err
	}
	_, rec, err := h.bind(c)
	if err != nil {
		return err
	}
	rec.ID = existing.ID
	if err := h.svc.Update(c.Request().Context(), rec); err != nil {
		return writeError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) Delete(c echo.Context) error {
	existing, err := h.load(c)
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), existing.ID); err != nil {
		return writeError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) History(c echo.Context) error {
	existing, err := h.load(c)
	if err != nil {
		return err
	}
	entries, err := h.svc.BonusHistory(c.Request().Context(), existing.ID)
	if err != nil {
		return writeError(err)
	}
	return c.JSON(http.StatusOK, entries)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	var f ListFilter
	for name, dst := range map[string]**uuid.UUID{"facility_id": &f.FacilityID, "patient_id": &f.PatientID} {
		if v := c.QueryParam(name); v != "" {
			id, err := uuid.Parse(v)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
			}
			*dst = &id
		}
	}
	if f.FacilityID == nil && !auth.HasRole(auth.RolesFromContext(c.Request().Context()), auth.RoleAdmin) {
		return echo.NewHTTPError(http.StatusBadRequest, "facility_id is required")
	}
	for name, dst := range map[string]**time.Time{"from": &f.From, "to": &f.To} {
		v, err := caldate.ParseOptional(c.QueryParam(name))
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
		}
		*dst = v
	}
	f.Status = c.QueryParam("status")

	items, total, err := h.svc.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}
