package bonus

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/houmon/houmon/pkg/caldate"
)

const (
	PointsFixed      = "fixed"
	PointsTiered     = "tiered"
	PointsPercentage = "percentage"
	PointsFormula    = "formula"
)

// SpecialManagementPrefix marks monthly special-management bonuses. Receipts
// report their points separately.
const SpecialManagementPrefix = "special_management"

// Definition is one effective-dated bonus rule. A nil FacilityID makes it
// global; a facility-scoped definition shadows the global one with the same
// code on the dates both are valid.
type Definition struct {
	ID              uuid.UUID       `json:"id"`
	FacilityID      *uuid.UUID      `json:"facility_id,omitempty"`
	BonusCode       string          `json:"bonus_code"`
	BonusName       string          `json:"bonus_name"`
	Description     *string         `json:"description,omitempty"`
	InsuranceType   string          `json:"insurance_type"`
	PointsType      string          `json:"points_type"`
	FixedPoints     *int            `json:"fixed_points,omitempty"`
	PointsConfig    json.RawMessage `json:"points_config,omitempty"`
	PointsFormula   *string         `json:"points_formula,omitempty"`
	ConditionType   string          `json:"condition_type"`
	ConditionParams json.RawMessage `json:"condition_params,omitempty"`
	ConditionExpr   *string         `json:"condition_expr,omitempty"`
	ValidFrom       time.Time       `json:"valid_from"`
	ValidTo         *time.Time      `json:"valid_to,omitempty"`
	IsActive        bool            `json:"is_active"`
	DisplayOrder    int             `json:"display_order"`
	Version         int             `json:"version"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func (d *Definition) IsGlobal() bool { return d.FacilityID == nil }

// CoversDate reports whether the definition is active and in its validity
// window on date.
func (d *Definition) CoversDate(date time.Time) bool {
	return d.IsActive && caldate.Within(date, d.ValidFrom, d.ValidTo)
}

// SameScope reports whether both definitions share a code and a facility
// scope (both global, or the same facility).
func (d *Definition) SameScope(o *Definition) bool {
	if d.BonusCode != o.BonusCode || d.InsuranceType != o.InsuranceType {
		return false
	}
	if d.FacilityID == nil || o.FacilityID == nil {
		return d.FacilityID == nil && o.FacilityID == nil
	}
	return *d.FacilityID == *o.FacilityID
}

// Overlaps reports whether the closed validity intervals intersect. A nil
// ValidTo is open-ended.
func (d *Definition) Overlaps(o *Definition) bool {
	if d.ValidTo != nil && caldate.Normalize(*d.ValidTo).Before(caldate.Normalize(o.ValidFrom)) {
		return false
	}
	if o.ValidTo != nil && caldate.Normalize(*o.ValidTo).Before(caldate.Normalize(d.ValidFrom)) {
		return false
	}
	return true
}

func IsSpecialManagement(code string) bool {
	return strings.HasPrefix(code, SpecialManagementPrefix)
}

// AppliedBonus is one bonus granted to a visit. It is stored on the nursing
// record and as a history row, and is what receipts aggregate.
type AppliedBonus struct {
	BonusCode         string                 `json:"bonus_code"`
	BonusName         string                 `json:"bonus_name"`
	Points            int                    `json:"points"`
	DefinitionID      uuid.UUID              `json:"definition_id"`
	DefinitionVersion int                    `json:"definition_version"`
	Details           map[string]interface{} `json:"details,omitempty"`
}

func TotalPoints(bonuses []AppliedBonus) int {
	total := 0
	for _, b := range bonuses {
		total += b.Points
	}
	return total
}

// EvaluationContext is everything the engine may look at for one visit.
type EvaluationContext struct {
	FacilityID    uuid.UUID
	PatientID     uuid.UUID
	NurseID       *uuid.UUID
	InsuranceType string
	VisitDate     time.Time
	StartTime     *time.Time
	EndTime       *time.Time
	// Location is used for time-of-day predicates. Defaults to UTC.
	Location *time.Location

	BasePoints int
	// DailyVisitCount is the 1-based ordinal of this visit among the
	// patient's visits on the same day.
	DailyVisitCount int
	// MonthlyVisitCount is the 1-based ordinal within the calendar month.
	MonthlyVisitCount int

	PatientAge             *int
	BuildingID             *uuid.UUID
	SpecialManagementTypes []string
	LastDischargeDate      *time.Time
	LastPlanCreatedDate    *time.Time
	DeathDate              *time.Time

	EmergencyVisitReason string
	IsMultipleStaff      bool
	IsFirstVisitOfPlan   bool
	IsDischargeDateVisit bool
	IsTerminalCare       bool

	Has24HourSupport    bool
	HasEmergencySupport bool
	HasBurdenReduction  bool

	NurseCertifications []string
}

// DurationMinutes returns the visit length, or 0 without both times.
func (c *EvaluationContext) DurationMinutes() int {
	if c.StartTime == nil || c.EndTime == nil || !c.EndTime.After(*c.StartTime) {
		return 0
	}
	return int(c.EndTime.Sub(*c.StartTime).Minutes())
}

// StartHour returns the local hour the visit began, or -1.
func (c *EvaluationContext) StartHour() int {
	if c.StartTime == nil {
		return -1
	}
	loc := c.Location
	if loc == nil {
		loc = time.UTC
	}
	return c.StartTime.In(loc).Hour()
}

type EffectiveQuery struct {
	FacilityID    uuid.UUID
	InsuranceType string
	Date          time.Time
}
