package master

import (
	"time"

	"github.com/google/uuid"

	"github.com/houmon/houmon/pkg/caldate"
)

const (
	InsuranceMedical = "medical"
	InsuranceCare    = "care"
)

// Well-known basic visit fee codes used when a facility has not configured
// its own default.
const (
	DefaultMedicalServiceCode = "311000110"
	DefaultCareServiceCode    = "131111"
)

func ValidInsuranceType(t string) bool {
	return t == InsuranceMedical || t == InsuranceCare
}

type Facility struct {
	ID                  uuid.UUID `json:"id"`
	Name                string    `json:"name"`
	InstitutionCode     *string   `json:"institution_code,omitempty"`
	PrefectureCode      *string   `json:"prefecture_code,omitempty"`
	Has24HourSupport    bool      `json:"has_24h_support"`
	HasEmergencySupport bool      `json:"has_emergency_support"`
	HasBurdenReduction  bool      `json:"has_burden_reduction"`
	DefaultServiceCode  *string   `json:"default_service_code,omitempty"`
}

// DefaultServiceCodeFor returns the facility's configured default code, or
// the well-known code for the insurance type.
func (f *Facility) DefaultServiceCodeFor(insuranceType string) string {
	if f.DefaultServiceCode != nil && *f.DefaultServiceCode != "" {
		return *f.DefaultServiceCode
	}
	if insuranceType == InsuranceCare {
		return DefaultCareServiceCode
	}
	return DefaultMedicalServiceCode
}

type Patient struct {
	ID                     uuid.UUID  `json:"id"`
	FacilityID             uuid.UUID  `json:"facility_id"`
	PatientNumber          string     `json:"patient_number"`
	LastName               string     `json:"last_name"`
	FirstName              string     `json:"first_name"`
	BirthDate              *time.Time `json:"birth_date,omitempty"`
	BuildingID             *uuid.UUID `json:"building_id,omitempty"`
	InsuranceType          string     `json:"insurance_type"`
	SpecialManagementTypes []string   `json:"special_management_types"`
	LastDischargeDate      *time.Time `json:"last_discharge_date,omitempty"`
	LastPlanCreatedDate    *time.Time `json:"last_plan_created_date,omitempty"`
	DeathDate              *time.Time `json:"death_date,omitempty"`
	IsActive               bool       `json:"is_active"`
}

func (p *Patient) FullName() string {
	if p.FirstName == "" {
		return p.LastName
	}
	return p.LastName + " " + p.FirstName
}

// AgeOn returns the patient's age on date, or nil without a birth date.
func (p *Patient) AgeOn(date time.Time) *int {
	if p.BirthDate == nil {
		return nil
	}
	age := caldate.AgeOn(*p.BirthDate, date)
	return &age
}

type Nurse struct {
	ID                       uuid.UUID `json:"id"`
	FacilityID               uuid.UUID `json:"facility_id"`
	FullName                 string    `json:"full_name"`
	SpecialistCertifications []string  `json:"specialist_certifications"`
}

type ServiceCode struct {
	ID            uuid.UUID  `json:"id"`
	Code          string     `json:"service_code"`
	Name          string     `json:"service_name"`
	Points        int        `json:"points"`
	InsuranceType string     `json:"insurance_type"`
	ValidFrom     time.Time  `json:"valid_from"`
	ValidTo       *time.Time `json:"valid_to,omitempty"`
	IsActive      bool       `json:"is_active"`
}

func (s *ServiceCode) CoversDate(d time.Time) bool {
	return s.IsActive && caldate.Within(d, s.ValidFrom, s.ValidTo)
}

type DoctorOrder struct {
	ID         uuid.UUID `json:"id"`
	FacilityID uuid.UUID `json:"facility_id"`
	PatientID  uuid.UUID `json:"patient_id"`
	OrderDate  time.Time `json:"order_date"`
	StartDate  time.Time `json:"start_date"`
	EndDate    time.Time `json:"end_date"`
}

func (o *DoctorOrder) Covers(d time.Time) bool {
	end := o.EndDate
	return caldate.Within(d, o.StartDate, &end)
}

type InsuranceCard struct {
	ID                uuid.UUID  `json:"id"`
	FacilityID        uuid.UUID  `json:"facility_id"`
	PatientID         uuid.UUID  `json:"patient_id"`
	InsuranceType     string     `json:"insurance_type"`
	InsurerNumber     *string    `json:"insurer_number,omitempty"`
	InsuredNumber     *string    `json:"insured_number,omitempty"`
	CertificationDate *time.Time `json:"certification_date,omitempty"`
	CopaymentRate     *int       `json:"copayment_rate,omitempty"`
	ValidFrom         time.Time  `json:"valid_from"`
	ValidUntil        *time.Time `json:"valid_until,omitempty"`
	IsActive          bool       `json:"is_active"`
}

func (c *InsuranceCard) Covers(d time.Time) bool {
	return c.IsActive && caldate.Within(d, c.ValidFrom, c.ValidUntil)
}

// OverlapsMonth reports whether the card is valid on any day of the month.
func (c *InsuranceCard) OverlapsMonth(year, month int) bool {
	if !c.IsActive {
		return false
	}
	first, last := caldate.MonthRange(year, month)
	if caldate.Normalize(c.ValidFrom).After(last) {
		return false
	}
	return c.ValidUntil == nil || !caldate.Normalize(*c.ValidUntil).Before(first)
}
