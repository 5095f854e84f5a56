package visit

import (
	"github.com/houmon/houmon/internal/domain/bonus"
	"github.com/houmon/houmon/internal/domain/master"
)

// visitFacts is the master data a record is evaluated against, loaded once
// per calculation.
type visitFacts struct {
	facility *master.Facility
	patient  *master.Patient
	nurse    *master.Nurse
}

// buildContext assembles the engine input for rec. It is rebuilt from
// current data on every calculation and never stored.
func (c *Calculator) buildContext(rec *NursingRecord, f visitFacts, base BaseResolution, monthly int) bonus.EvaluationContext {
	ec := bonus.EvaluationContext{
		FacilityID:        rec.FacilityID,
		PatientID:         rec.PatientID,
		NurseID:           rec.NurseID,
		InsuranceType:     f.patient.InsuranceType,
		VisitDate:         rec.VisitDate,
		StartTime:         rec.ActualStartTime,
		EndTime:           rec.ActualEndTime,
		Location:          c.loc,
		BasePoints:        base.Points,
		DailyVisitCount:   base.DailyVisitCount,
		MonthlyVisitCount: monthly,

		PatientAge:             f.patient.AgeOn(rec.VisitDate),
		BuildingID:             f.patient.BuildingID,
		SpecialManagementTypes: f.patient.SpecialManagementTypes,
		LastDischargeDate:      f.patient.LastDischargeDate,
		LastPlanCreatedDate:    f.patient.LastPlanCreatedDate,
		DeathDate:              f.patient.DeathDate,

		IsMultipleStaff:      rec.IsMultipleStaff,
		IsFirstVisitOfPlan:   rec.IsFirstVisitOfPlan,
		IsDischargeDateVisit: rec.IsDischargeDateVisit,
		IsTerminalCare:       rec.IsTerminalCare,

		Has24HourSupport:    f.facility.Has24HourSupport,
		HasEmergencySupport: f.facility.HasEmergencySupport,
		HasBurdenReduction:  f.facility.HasBurdenReduction,
	}
	if rec.EmergencyVisitReason != nil {
		ec.EmergencyVisitReason = *rec.EmergencyVisitReason
	}
	if f.nurse != nil {
		ec.NurseCertifications = f.nurse.SpecialistCertifications
	}
	return ec
}
