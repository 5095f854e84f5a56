package visit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/houmon/houmon/internal/domain/bonus"
	"github.com/houmon/houmon/internal/domain/master"
	"github.com/houmon/houmon/internal/platform/apperr"
	"github.com/houmon/houmon/internal/platform/db"
	"github.com/houmon/houmon/pkg/caldate"
)

// Calculator derives a nursing record's points: base service code points
// plus the bonuses the engine grants.
type Calculator struct {
	records Repository
	history HistoryRepository
	dir     master.Directory
	engine  *bonus.Engine
	tx      db.TxRunner
	loc     *time.Location
	logger  zerolog.Logger
}

func NewCalculator(records Repository, history HistoryRepository, dir master.Directory,
	engine *bonus.Engine, tx db.TxRunner, loc *time.Location, logger zerolog.Logger) *Calculator {
	if loc == nil {
		loc = time.UTC
	}
	return &Calculator{records: records, history: history, dir: dir, engine: engine, tx: tx, loc: loc, logger: logger}
}

// BaseResolution is the outcome of ResolveBaseServiceCode.
type BaseResolution struct {
	ServiceCode     *master.ServiceCode
	Points          int
	Defaulted       bool
	DailyVisitCount int
}

// ResolveBaseServiceCode decides which service code pays the basic visit fee
// for draft. An explicitly chosen code always applies. Otherwise only the
// patient's first visit of the day gets the facility's default code; later
// visits get zero base points, so the basic fee is never defaulted twice on
// one day. excluding is the saved record's own id when editing.
func (c *Calculator) ResolveBaseServiceCode(ctx context.Context, draft *NursingRecord, facilityID uuid.UUID, excluding *uuid.UUID) (BaseResolution, error) {
	facility, err := c.dir.GetFacility(ctx, facilityID)
	if err != nil {
		return BaseResolution{}, fmt.Errorf("load facility: %w", err)
	}
	patient, err := c.dir.GetPatient(ctx, draft.PatientID)
	if err != nil {
		return BaseResolution{}, fmt.Errorf("load patient: %w", err)
	}
	return c.resolveBase(ctx, draft, facility, patient.InsuranceType, excluding)
}

func (c *Calculator) resolveBase(ctx context.Context, draft *NursingRecord, facility *master.Facility, insuranceType string, excluding *uuid.UUID) (BaseResolution, error) {
	sameDay, err := c.records.ListSameDay(ctx, draft.PatientID, facility.ID, draft.VisitDate, excluding)
	if err != nil {
		return BaseResolution{}, fmt.Errorf("list same-day records: %w", err)
	}
	res := BaseResolution{DailyVisitCount: Ordinal(draft, sameDay)}

	if draft.ServiceCodeID != nil {
		sc, err := c.dir.GetServiceCode(ctx, *draft.ServiceCodeID)
		if errors.Is(err, master.ErrNotFound) {
			return res, apperr.Invalid("service_code_id", "unknown service code")
		}
		if err != nil {
			return res, fmt.Errorf("load service code: %w", err)
		}
		if !sc.CoversDate(draft.VisitDate) {
			return res, apperr.Invalid("service_code_id", "service code "+sc.Code+" is not valid on the visit date")
		}
		if sc.InsuranceType != insuranceType {
			return res, apperr.Invalid("service_code_id", "service code "+sc.Code+" belongs to "+sc.InsuranceType+" insurance")
		}
		res.ServiceCode, res.Points = sc, sc.Points
		return res, nil
	}

	if res.DailyVisitCount > 1 {
		return res, nil
	}

	code := facility.DefaultServiceCodeFor(insuranceType)
	sc, err := c.dir.FindServiceCode(ctx, code, draft.VisitDate)
	if errors.Is(err, master.ErrNotFound) {
		c.logger.Warn().
			Str("facility_id", facility.ID.String()).
			Str("service_code", code).
			Str("visit_date", caldate.Format(draft.VisitDate)).
			Msg("default service code not in master; base points left at zero")
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("find default service code: %w", err)
	}
	res.ServiceCode, res.Points, res.Defaulted = sc, sc.Points, true
	return res, nil
}

func checkDraft(d *NursingRecord) error {
	ve := &apperr.ValidationError{}
	if d.PatientID == uuid.Nil {
		ve.Add("patient_id", "is required")
	}
	if d.VisitDate.IsZero() {
		ve.Add("visit_date", "is required")
	}
	if d.ActualStartTime != nil && d.ActualEndTime != nil && d.ActualEndTime.Before(*d.ActualStartTime) {
		ve.Add("actual_end_time", "must not be before actual_start_time")
	}
	if d.Status != StatusDraft && d.Status != StatusCompleted {
		ve.Add("status", "must be draft or completed")
	}
	return ve.OrNil()
}

// Calculate computes points for draft. When existingRecordID is set the
// draft is a saved record: it is excluded from its own sibling counts and
// its bonus history rows are overwritten with the result.
func (c *Calculator) Calculate(ctx context.Context, draft *NursingRecord, facilityID uuid.UUID, existingRecordID *uuid.UUID) (*Result, error) {
	return c.calculate(ctx, draft, facilityID, existingRecordID, existingRecordID != nil)
}

// Preview is Calculate without the history side effect.
func (c *Calculator) Preview(ctx context.Context, draft *NursingRecord, facilityID uuid.UUID, existingRecordID *uuid.UUID) (*Result, error) {
	return c.calculate(ctx, draft, facilityID, existingRecordID, false)
}

func (c *Calculator) calculate(ctx context.Context, draft *NursingRecord, facilityID uuid.UUID, excluding *uuid.UUID, persist bool) (*Result, error) {
	if err := checkDraft(draft); err != nil {
		return nil, err
	}
	draft.FacilityID = facilityID
	draft.VisitDate = caldate.Normalize(draft.VisitDate)

	facts, err := c.loadFacts(ctx, draft)
	if err != nil {
		return nil, err
	}
	base, err := c.resolveBase(ctx, draft, facts.facility, facts.patient.InsuranceType, excluding)
	if err != nil {
		return nil, err
	}

	from, to := caldate.MonthRange(draft.VisitDate.Year(), int(draft.VisitDate.Month()))
	month, err := c.records.ListInPeriod(ctx, PeriodQuery{
		FacilityID: facilityID, PatientID: &draft.PatientID, From: from, To: to,
	})
	if err != nil {
		return nil, fmt.Errorf("list month records: %w", err)
	}
	if excluding != nil {
		month = without(month, *excluding)
	}
	monthly := Ordinal(draft, month)

	applied, err := c.engine.Evaluate(ctx, c.buildContext(draft, facts, base, monthly))
	if err != nil {
		return nil, err
	}

	res := &Result{
		BasePoints:        base.Points,
		Defaulted:         base.Defaulted,
		DailyVisitCount:   base.DailyVisitCount,
		MonthlyVisitCount: monthly,
		AppliedBonuses:    applied,
		CalculatedPoints:  base.Points + bonus.TotalPoints(applied),
	}
	if base.ServiceCode != nil {
		res.ServiceCodeID = &base.ServiceCode.ID
		res.ServiceCode = base.ServiceCode.Code
	}

	if persist {
		if err := c.SaveBonusCalculationHistory(ctx, *excluding, applied); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (c *Calculator) loadFacts(ctx context.Context, draft *NursingRecord) (visitFacts, error) {
	var f visitFacts
	var err error
	if f.facility, err = c.dir.GetFacility(ctx, draft.FacilityID); err != nil {
		if errors.Is(err, master.ErrNotFound) {
			return f, apperr.Invalid("facility_id", "unknown facility")
		}
		return f, fmt.Errorf("load facility: %w", err)
	}
	if f.patient, err = c.dir.GetPatient(ctx, draft.PatientID); err != nil {
		if errors.Is(err, master.ErrNotFound) {
			return f, apperr.Invalid("patient_id", "unknown patient")
		}
		return f, fmt.Errorf("load patient: %w", err)
	}
	if f.patient.FacilityID != draft.FacilityID {
		return f, apperr.Invalid("patient_id", "patient does not belong to the facility")
	}
	if draft.NurseID != nil {
		if f.nurse, err = c.dir.GetNurse(ctx, *draft.NurseID); err != nil {
			if errors.Is(err, master.ErrNotFound) {
				return f, apperr.Invalid("nurse_id", "unknown nurse")
			}
			return f, fmt.Errorf("load nurse: %w", err)
		}
	}
	return f, nil
}

func without(recs []*NursingRecord, id uuid.UUID) []*NursingRecord {
	out := recs[:0:0]
	for _, r := range recs {
		if r.ID != id {
			out = append(out, r)
		}
	}
	return out
}
