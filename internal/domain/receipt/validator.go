package receipt

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/houmon/houmon/internal/domain/bonus"
	"github.com/houmon/houmon/internal/domain/master"
	"github.com/houmon/houmon/internal/domain/visit"
	"github.com/houmon/houmon/pkg/caldate"
)

// Error codes block confirmation; warning codes are advisory.
const (
	CodeDoctorOrderMissing    = "DOCTOR_ORDER_MISSING"
	CodeInsuranceCardInvalid  = "INSURANCE_CARD_INVALID"
	CodeDuplicateBonus        = "DUPLICATE_BONUS"
	CodeDuplicateMonthlyBonus = "DUPLICATE_MONTHLY_BONUS"
	CodeTotalsMismatch        = "TOTALS_MISMATCH"
	CodeReceiptOutdated       = "RECEIPT_OUTDATED"

	CodeVisitTimesMissing          = "VISIT_TIMES_MISSING"
	CodeStalePoints                = "STALE_POINTS"
	CodeBaseFeeMissing             = "BASE_FEE_MISSING"
	CodeLongVisitSuggested         = "LONG_VISIT_BONUS_SUGGESTED"
	CodeMultipleVisitSuggested     = "MULTIPLE_VISIT_BONUS_SUGGESTED"
	CodeEmergencySuggested         = "EMERGENCY_BONUS_SUGGESTED"
	CodeSpecialManagementSuggested = "SPECIAL_MANAGEMENT_BONUS_SUGGESTED"
	CodeNoVisits                   = "NO_VISITS"
)

// Input is everything the validator looks at for one receipt. Stored is the
// persisted receipt when one exists; its totals are compared with Totals.
// Siblings holds every non-deleted record of the patient in the month,
// drafts included, which is the set the calculator counts same-day visits
// over. Records is used when Siblings is nil.
type Input struct {
	Key      Key
	Patient  *master.Patient
	Records  []*visit.NursingRecord
	Siblings []*visit.NursingRecord
	History  map[uuid.UUID][]*visit.HistoryEntry
	Orders   []*master.DoctorOrder
	Cards    []*master.InsuranceCard
	Totals   Totals
	Stored   *Receipt
}

type Validator struct {
	longVisitMinutes int
}

func NewValidator(longVisitMinutes int) *Validator {
	if longVisitMinutes <= 0 {
		longVisitMinutes = 90
	}
	return &Validator{longVisitMinutes: longVisitMinutes}
}

func recordMessage(code, msg string, rec *visit.NursingRecord) Message {
	id := rec.ID
	return Message{Code: code, Message: msg, RecordID: &id, VisitDate: caldate.Format(rec.VisitDate)}
}

// hasBonus reports whether entries contain a bonus granted by the given
// condition type, whatever code the catalog gave it.
func hasBonus(entries []*visit.HistoryEntry, conditionType string) bool {
	for _, h := range entries {
		if ct, _ := h.CalculationDetails["condition_type"].(string); ct == conditionType {
			return true
		}
	}
	return false
}

func isMonthly(h *visit.HistoryEntry) bool {
	if once, _ := h.CalculationDetails["once_per_month"].(bool); once {
		return true
	}
	return bonus.IsSpecialManagement(h.BonusCode)
}

// Validate checks one receipt's visits. It never fails; problems are
// reported as messages.
func (v *Validator) Validate(in *Input) Validation {
	var errs, warns []Message

	if len(in.Records) == 0 {
		warns = append(warns, Message{Code: CodeNoVisits, Message: "no completed visits in the month"})
	}

	siblings := in.Siblings
	if siblings == nil {
		siblings = in.Records
	}
	monthlySeen := map[string]uuid.UUID{}
	hasSpecialManagement := false
	for _, rec := range in.Records {
		entries := in.History[rec.ID]

		if !coveredByOrder(in.Orders, rec) {
			errs = append(errs, recordMessage(CodeDoctorOrderMissing,
				"no valid doctor's instruction covers the visit date", rec))
		}
		if !coveredByCard(in.Cards, in.Key.InsuranceType, rec) {
			errs = append(errs, recordMessage(CodeInsuranceCardInvalid,
				fmt.Sprintf("no active %s insurance card covers the visit date", in.Key.InsuranceType), rec))
		}

		codes := map[string]bool{}
		historyPoints := 0
		for _, h := range entries {
			historyPoints += h.CalculatedPoints
			if codes[h.BonusCode] {
				m := recordMessage(CodeDuplicateBonus,
					fmt.Sprintf("bonus %s is applied more than once to the visit", h.BonusCode), rec)
				m.Field = h.BonusCode
				errs = append(errs, m)
			}
			codes[h.BonusCode] = true
			if bonus.IsSpecialManagement(h.BonusCode) {
				hasSpecialManagement = true
			}
			if isMonthly(h) {
				if first, ok := monthlySeen[h.BonusCode]; ok && first != rec.ID {
					m := recordMessage(CodeDuplicateMonthlyBonus,
						fmt.Sprintf("monthly bonus %s is applied to more than one visit", h.BonusCode), rec)
					m.Field = h.BonusCode
					errs = append(errs, m)
				} else {
					monthlySeen[h.BonusCode] = rec.ID
				}
			}
		}

		if rec.ActualStartTime == nil || rec.ActualEndTime == nil {
			warns = append(warns, recordMessage(CodeVisitTimesMissing, "visit start or end time is missing", rec))
		}
		if rec.CalculatedPoints != rec.BasePoints+historyPoints || !sameCodes(rec.AppliedBonuses, codes) {
			warns = append(warns, recordMessage(CodeStalePoints,
				"stored points differ from the bonus history; recalculate the visit", rec))
		}
		daily := visit.DailyOrdinal(rec, siblings)
		if daily == 1 && rec.BasePoints == 0 {
			warns = append(warns, recordMessage(CodeBaseFeeMissing,
				"first visit of the day has no basic visit fee", rec))
		}
		if rec.DurationMinutes() >= v.longVisitMinutes && !hasBonus(entries, "long_visit") {
			warns = append(warns, recordMessage(CodeLongVisitSuggested,
				fmt.Sprintf("visit lasted %d minutes without a long visit bonus", rec.DurationMinutes()), rec))
		}
		if daily >= 2 && !hasBonus(entries, "multiple_visits") {
			warns = append(warns, recordMessage(CodeMultipleVisitSuggested,
				fmt.Sprintf("visit %d of the day without a multiple visit bonus", daily), rec))
		}
		if rec.EmergencyVisitReason != nil && *rec.EmergencyVisitReason != "" && !hasBonus(entries, "emergency_visit") {
			warns = append(warns, recordMessage(CodeEmergencySuggested,
				"emergency visit without an emergency bonus", rec))
		}
	}

	if len(in.Records) > 0 && in.Patient != nil && len(in.Patient.SpecialManagementTypes) > 0 && !hasSpecialManagement {
		warns = append(warns, Message{Code: CodeSpecialManagementSuggested,
			Message: "patient requires special management but no special management bonus was applied"})
	}

	t := in.Totals
	if t.TotalPoints != t.TotalVisitPoints+t.TotalBonusPoints || t.TotalAmount < 0 {
		errs = append(errs, Message{Code: CodeTotalsMismatch, Message: "total points do not equal visit plus bonus points"})
	}
	if in.Stored != nil {
		s := in.Stored.Totals
		if s.TotalPoints != s.TotalVisitPoints+s.TotalBonusPoints {
			errs = append(errs, Message{Code: CodeTotalsMismatch, Message: "stored total points do not equal visit plus bonus points"})
		}
		if !SameTotals(s, t) {
			errs = append(errs, Message{Code: CodeReceiptOutdated,
				Message: fmt.Sprintf("visits changed since the receipt was calculated (stored %d points, now %d); recalculate first",
					s.TotalPoints, t.TotalPoints)})
		}
	}

	return Validation{IsValid: len(errs) == 0, Errors: nonNil(errs), Warnings: nonNil(warns)}
}

func coveredByOrder(orders []*master.DoctorOrder, rec *visit.NursingRecord) bool {
	for _, o := range orders {
		if o.PatientID == rec.PatientID && o.Covers(rec.VisitDate) {
			return true
		}
	}
	return false
}

func coveredByCard(cards []*master.InsuranceCard, insuranceType string, rec *visit.NursingRecord) bool {
	for _, c := range cards {
		if c.InsuranceType == insuranceType && c.Covers(rec.VisitDate) {
			return true
		}
	}
	return false
}

func sameCodes(applied []bonus.AppliedBonus, history map[string]bool) bool {
	if len(applied) != len(history) {
		return false
	}
	for _, a := range applied {
		if !history[a.BonusCode] {
			return false
		}
	}
	return true
}
