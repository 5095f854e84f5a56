package receipt

import (
	"time"

	"github.com/google/uuid"
)

// Key identifies a receipt. At most one receipt exists per key.
type Key struct {
	FacilityID    uuid.UUID `json:"facility_id"`
	PatientID     uuid.UUID `json:"patient_id"`
	Year          int       `json:"target_year"`
	Month         int       `json:"target_month"`
	InsuranceType string    `json:"insurance_type"`
}

// BonusLine is one bonus code's share of a receipt.
type BonusLine struct {
	BonusCode string `json:"bonus_code"`
	BonusName string `json:"bonus_name"`
	Count     int    `json:"count"`
	Points    int    `json:"points"`
}

// BuildingLine attributes visits to the building the patient lives in. A nil
// BuildingID collects patients without one.
type BuildingLine struct {
	BuildingID  *uuid.UUID `json:"building_id"`
	VisitCount  int        `json:"visit_count"`
	VisitPoints int        `json:"visit_points"`
	BonusPoints int        `json:"bonus_points"`
}

// Message is one validation finding.
type Message struct {
	Code      string     `json:"code"`
	Message   string     `json:"message"`
	RecordID  *uuid.UUID `json:"record_id,omitempty"`
	VisitDate string     `json:"visit_date,omitempty"`
	Field     string     `json:"field,omitempty"`
}

// Totals is the computed part of a receipt.
type Totals struct {
	VisitCount              int            `json:"visit_count"`
	TotalVisitPoints        int            `json:"total_visit_points"`
	TotalBonusPoints        int            `json:"total_bonus_points"`
	SpecialManagementPoints int            `json:"special_management_points"`
	TotalPoints             int            `json:"total_points"`
	TotalAmount             int            `json:"total_amount"`
	BonusBreakdown          []BonusLine    `json:"bonus_breakdown"`
	BuildingBreakdown       []BuildingLine `json:"building_breakdown"`
}

// Validation is the outcome of the receipt validator.
type Validation struct {
	IsValid  bool      `json:"is_valid"`
	Errors   []Message `json:"errors"`
	Warnings []Message `json:"warnings"`
}

// CSVValidation is the outcome of the export-readiness check.
type CSVValidation struct {
	CanExportCSV bool      `json:"can_export_csv"`
	Errors       []Message `json:"errors"`
	Warnings     []Message `json:"warnings"`
}

// Receipt is the monthly claim for one patient, facility and insurance
// type. Its state is derived from IsConfirmed and IsSent; IsSent implies
// IsConfirmed.
type Receipt struct {
	ID uuid.UUID `json:"id"`
	Key
	Totals

	HasErrors         bool      `json:"has_errors"`
	HasWarnings       bool      `json:"has_warnings"`
	ErrorMessages     []Message `json:"error_messages"`
	WarningMessages   []Message `json:"warning_messages"`
	CanExportCSV      bool      `json:"can_export_csv"`
	CSVExportErrors   []Message `json:"csv_export_errors"`
	CSVExportWarnings []Message `json:"csv_export_warnings"`

	IsConfirmed bool       `json:"is_confirmed"`
	ConfirmedBy *string    `json:"confirmed_by,omitempty"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
	IsSent      bool       `json:"is_sent"`
	SentAt      *time.Time `json:"sent_at,omitempty"`

	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

const (
	StateDraft     = "draft"
	StateConfirmed = "confirmed"
	StateSent      = "sent"
)

func (r *Receipt) State() string {
	switch {
	case r.IsSent:
		return StateSent
	case r.IsConfirmed:
		return StateConfirmed
	}
	return StateDraft
}

func (r *Receipt) applyValidation(v Validation) {
	r.HasErrors = len(v.Errors) > 0
	r.HasWarnings = len(v.Warnings) > 0
	r.ErrorMessages = nonNil(v.Errors)
	r.WarningMessages = nonNil(v.Warnings)
}

func (r *Receipt) applyCSV(c CSVValidation) {
	r.CanExportCSV = c.CanExportCSV
	r.CSVExportErrors = nonNil(c.Errors)
	r.CSVExportWarnings = nonNil(c.Warnings)
}

// RejectionCode names why a lifecycle transition was refused.
type RejectionCode string

const (
	RejectAlreadyConfirmed RejectionCode = "already_confirmed"
	RejectNotConfirmed     RejectionCode = "not_confirmed"
	RejectAlreadySent      RejectionCode = "already_sent"
	RejectHasErrors        RejectionCode = "has_errors"
	RejectNotFound         RejectionCode = "not_found"
)

// Rejection is an expected refusal of a transition, not a failure.
type Rejection struct {
	Code    RejectionCode `json:"code"`
	Message string        `json:"message"`
	Errors  []Message     `json:"errors,omitempty"`
}

// TransitionResult carries the receipt after a transition, or the reason
// it was refused. Receipt is still set on most rejections so callers can
// show the current state.
type TransitionResult struct {
	Receipt   *Receipt   `json:"receipt,omitempty"`
	Rejection *Rejection `json:"rejection,omitempty"`
}

func (t *TransitionResult) OK() bool { return t.Rejection == nil }

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
