package visit

import (
	"time"

	"github.com/google/uuid"

	"github.com/houmon/houmon/internal/domain/bonus"
)

const (
	StatusDraft     = "draft"
	StatusCompleted = "completed"
)

// NursingRecord is one home visit. CalculatedPoints, BasePoints,
// ResolvedServiceCodeID, ServiceCodeDefaulted and AppliedBonuses are derived
// and rewritten whenever any record of the same patient and month changes.
type NursingRecord struct {
	ID              uuid.UUID  `json:"id"`
	FacilityID      uuid.UUID  `json:"facility_id"`
	PatientID       uuid.UUID  `json:"patient_id"`
	NurseID         *uuid.UUID `json:"nurse_id,omitempty"`
	VisitDate       time.Time  `json:"visit_date"`
	ActualStartTime *time.Time `json:"actual_start_time,omitempty"`
	ActualEndTime   *time.Time `json:"actual_end_time,omitempty"`
	Status          string     `json:"status"`

	ServiceCodeID         *uuid.UUID `json:"service_code_id,omitempty"`
	ResolvedServiceCodeID *uuid.UUID `json:"resolved_service_code_id,omitempty"`
	ServiceCodeDefaulted  bool       `json:"service_code_defaulted"`
	BasePoints            int        `json:"base_points"`

	EmergencyVisitReason *string `json:"emergency_visit_reason,omitempty"`
	MultipleVisitReason  *string `json:"multiple_visit_reason,omitempty"`
	IsMultipleStaff      bool    `json:"is_multiple_staff"`
	IsFirstVisitOfPlan   bool    `json:"is_first_visit_of_plan"`
	IsDischargeDateVisit bool    `json:"is_discharge_date_visit"`
	IsTerminalCare       bool    `json:"is_terminal_care"`

	CalculatedPoints int                  `json:"calculated_points"`
	AppliedBonuses   []bonus.AppliedBonus `json:"applied_bonuses"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

func (r *NursingRecord) IsCompleted() bool { return r.Status == StatusCompleted }

// BonusPoints is the sum of the applied bonuses.
func (r *NursingRecord) BonusPoints() int { return bonus.TotalPoints(r.AppliedBonuses) }

func (r *NursingRecord) DurationMinutes() int {
	if r.ActualStartTime == nil || r.ActualEndTime == nil || !r.ActualEndTime.After(*r.ActualStartTime) {
		return 0
	}
	return int(r.ActualEndTime.Sub(*r.ActualStartTime).Minutes())
}

// HistoryEntry is one row of bonus_calculation_history: a bonus granted to a
// record by a specific definition version.
type HistoryEntry struct {
	ID                 uuid.UUID              `json:"id"`
	NursingRecordID    uuid.UUID              `json:"nursing_record_id"`
	BonusDefinitionID  uuid.UUID              `json:"bonus_definition_id"`
	BonusCode          string                 `json:"bonus_code"`
	BonusName          string                 `json:"bonus_name"`
	CalculatedPoints   int                    `json:"calculated_points"`
	DefinitionVersion  int                    `json:"definition_version"`
	CalculationDetails map[string]interface{} `json:"calculation_details,omitempty"`
	CreatedAt          time.Time              `json:"created_at"`
}

func historyFromApplied(recordID uuid.UUID, applied []bonus.AppliedBonus) []*HistoryEntry {
	out := make([]*HistoryEntry, 0, len(applied))
	for _, a := range applied {
		out = append(out, &HistoryEntry{
			ID:                 uuid.New(),
			NursingRecordID:    recordID,
			BonusDefinitionID:  a.DefinitionID,
			BonusCode:          a.BonusCode,
			BonusName:          a.BonusName,
			CalculatedPoints:   a.Points,
			DefinitionVersion:  a.DefinitionVersion,
			CalculationDetails: a.Details,
		})
	}
	return out
}

// Result is what the calculator derives for one record.
type Result struct {
	BasePoints        int                  `json:"base_points"`
	ServiceCodeID     *uuid.UUID           `json:"service_code_id,omitempty"`
	ServiceCode       string               `json:"service_code,omitempty"`
	Defaulted         bool                 `json:"service_code_defaulted"`
	DailyVisitCount   int                  `json:"daily_visit_count"`
	MonthlyVisitCount int                  `json:"monthly_visit_count"`
	AppliedBonuses    []bonus.AppliedBonus `json:"applied_bonuses"`
	CalculatedPoints  int                  `json:"calculated_points"`
}

// apply copies the derived fields onto r.
func (res *Result) apply(r *NursingRecord) {
	r.BasePoints = res.BasePoints
	r.ResolvedServiceCodeID = res.ServiceCodeID
	r.ServiceCodeDefaulted = res.Defaulted
	r.AppliedBonuses = res.AppliedBonuses
	r.CalculatedPoints = res.CalculatedPoints
}
