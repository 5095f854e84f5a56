package receipt

import (
	"fmt"
	"regexp"
	"time"

	"github.com/houmon/houmon/internal/domain/master"
	"github.com/houmon/houmon/pkg/caldate"
)

const (
	CodeInstitutionCodeMissing = "INSTITUTION_CODE_MISSING"
	CodeInstitutionCodeInvalid = "INSTITUTION_CODE_INVALID"
	CodePrefectureCodeMissing  = "PREFECTURE_CODE_MISSING"
	CodePrefectureCodeInvalid  = "PREFECTURE_CODE_INVALID"
	CodePatientNameMissing     = "PATIENT_NAME_MISSING"
	CodeBirthDateMissing       = "BIRTH_DATE_MISSING"
	CodeCardMissing            = "INSURANCE_CARD_MISSING"
	CodeInsurerNumberMissing   = "INSURER_NUMBER_MISSING"
	CodeInsurerNumberInvalid   = "INSURER_NUMBER_INVALID"
	CodeInsuredNumberMissing   = "INSURED_NUMBER_MISSING"
	CodeCertificationMissing   = "CERTIFICATION_DATE_MISSING"
	CodeCertificationAfter     = "CERTIFICATION_AFTER_PERIOD"

	CodeCopaymentMissing = "COPAYMENT_RATE_MISSING"
	CodeCopaymentUnusual = "COPAYMENT_RATE_UNUSUAL"
	CodeBuildingMissing  = "BUILDING_MISSING"
)

var (
	institutionCodeRe = regexp.MustCompile(`^[0-9]{10}$`)
	prefectureCodeRe  = regexp.MustCompile(`^(0[1-9]|[1-3][0-9]|4[0-7])$`)
	medicalInsurerRe  = regexp.MustCompile(`^([0-9]{6}|[0-9]{8})$`)
	careInsurerRe     = regexp.MustCompile(`^[0-9]{6}$`)
)

// CSVInput is the master data the export file needs for one patient-month.
// An empty InsuranceType checks every card valid in the month.
type CSVInput struct {
	Facility      *master.Facility
	Patient       *master.Patient
	Cards         []*master.InsuranceCard
	Year          int
	Month         int
	InsuranceType string
}

func fieldMessage(code, field, msg string) Message {
	return Message{Code: code, Field: field, Message: msg}
}

func blank(s *string) bool { return s == nil || *s == "" }

// ValidateCSV checks that the regulatory export can be produced. It is
// stricter than Validate and does not gate confirmation.
func ValidateCSV(in *CSVInput) CSVValidation {
	var errs, warns []Message

	f := in.Facility
	switch {
	case blank(f.InstitutionCode):
		errs = append(errs, fieldMessage(CodeInstitutionCodeMissing, "facility.institution_code",
			"facility has no medical institution code"))
	case !institutionCodeRe.MatchString(*f.InstitutionCode):
		errs = append(errs, fieldMessage(CodeInstitutionCodeInvalid, "facility.institution_code",
			"institution code must be 10 digits"))
	}
	switch {
	case blank(f.PrefectureCode):
		errs = append(errs, fieldMessage(CodePrefectureCodeMissing, "facility.prefecture_code",
			"facility has no prefecture code"))
	case !prefectureCodeRe.MatchString(*f.PrefectureCode):
		errs = append(errs, fieldMessage(CodePrefectureCodeInvalid, "facility.prefecture_code",
			"prefecture code must be between 01 and 47"))
	case !blank(f.InstitutionCode) && institutionCodeRe.MatchString(*f.InstitutionCode) &&
		(*f.InstitutionCode)[:2] != *f.PrefectureCode:
		errs = append(errs, fieldMessage(CodeInstitutionCodeInvalid, "facility.institution_code",
			"institution code does not start with the facility's prefecture code"))
	}

	p := in.Patient
	if p.LastName == "" {
		errs = append(errs, fieldMessage(CodePatientNameMissing, "patient.last_name", "patient name is missing"))
	}
	if p.BirthDate == nil {
		errs = append(errs, fieldMessage(CodeBirthDateMissing, "patient.birth_date", "patient birth date is missing"))
	}
	if p.BuildingID == nil {
		warns = append(warns, fieldMessage(CodeBuildingMissing, "patient.building_id",
			"patient has no building; the building breakdown will be unassigned"))
	}

	_, monthEnd := caldate.MonthRange(in.Year, in.Month)
	matched := 0
	for _, c := range in.Cards {
		if in.InsuranceType != "" && c.InsuranceType != in.InsuranceType {
			continue
		}
		if !c.OverlapsMonth(in.Year, in.Month) {
			continue
		}
		matched++
		e, w := checkCard(c, monthEnd)
		errs = append(errs, e...)
		warns = append(warns, w...)
	}
	if matched == 0 {
		msg := "no active insurance card is valid in the month"
		if in.InsuranceType != "" {
			msg = fmt.Sprintf("no active %s insurance card is valid in the month", in.InsuranceType)
		}
		errs = append(errs, fieldMessage(CodeCardMissing, "insurance_card", msg))
	}

	return CSVValidation{CanExportCSV: len(errs) == 0, Errors: nonNil(errs), Warnings: nonNil(warns)}
}

func checkCard(c *master.InsuranceCard, monthEnd time.Time) (errs, warns []Message) {
	field := func(name string) string { return c.InsuranceType + "_card." + name }

	switch {
	case blank(c.InsurerNumber):
		errs = append(errs, fieldMessage(CodeInsurerNumberMissing, field("insurer_number"), "insurer number is missing"))
	case c.InsuranceType == master.InsuranceCare && !careInsurerRe.MatchString(*c.InsurerNumber):
		errs = append(errs, fieldMessage(CodeInsurerNumberInvalid, field("insurer_number"),
			"care insurer number must be 6 digits"))
	case c.InsuranceType == master.InsuranceMedical && !medicalInsurerRe.MatchString(*c.InsurerNumber):
		errs = append(errs, fieldMessage(CodeInsurerNumberInvalid, field("insurer_number"),
			"medical insurer number must be 6 or 8 digits"))
	}
	if blank(c.InsuredNumber) {
		errs = append(errs, fieldMessage(CodeInsuredNumberMissing, field("insured_number"), "insured number is missing"))
	}
	if c.InsuranceType == master.InsuranceCare {
		switch {
		case c.CertificationDate == nil:
			errs = append(errs, fieldMessage(CodeCertificationMissing, field("certification_date"),
				"care level certification date is missing"))
		case caldate.Normalize(*c.CertificationDate).After(monthEnd):
			errs = append(errs, fieldMessage(CodeCertificationAfter, field("certification_date"),
				"care level certification date is after the billing month"))
		}
	}
	switch {
	case c.CopaymentRate == nil:
		warns = append(warns, fieldMessage(CodeCopaymentMissing, field("copayment_rate"), "copayment rate is missing"))
	case *c.CopaymentRate != 0 && *c.CopaymentRate != 10 && *c.CopaymentRate != 20 && *c.CopaymentRate != 30:
		warns = append(warns, fieldMessage(CodeCopaymentUnusual, field("copayment_rate"),
			fmt.Sprintf("copayment rate %d%% is not 0, 10, 20 or 30", *c.CopaymentRate)))
	}
	return errs, warns
}
