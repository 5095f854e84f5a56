package export_test

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/houmon/houmon/internal/domain/export"
	"github.com/houmon/houmon/internal/domain/master"
	"github.com/houmon/houmon/internal/domain/master/mastertest"
	"github.com/houmon/houmon/internal/domain/receipt"
	"github.com/houmon/houmon/internal/domain/receipt/receipttest"
)

func ptr[T any](v T) *T { return &v }

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

type fixture struct {
	dir      *mastertest.Directory
	receipts *receipttest.Receipts
	svc      *export.Service
	facility *master.Facility
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{dir: mastertest.New(), receipts: receipttest.NewReceipts()}
	f.facility = f.dir.AddFacility(&master.Facility{
		Name:            "さくら訪問看護ステーション",
		InstitutionCode: ptr("1312345678"),
		PrefectureCode:  ptr("13"),
	})
	f.svc = export.NewService(f.receipts, f.dir, zerolog.Nop())
	return f
}

// patient adds a care patient with a complete insurance card for 2024.
func (f *fixture) patient(number, last, first string) *master.Patient {
	p := f.dir.AddPatient(&master.Patient{
		FacilityID:    f.facility.ID,
		PatientNumber: number,
		LastName:      last,
		FirstName:     first,
		BirthDate:     ptr(day("1940-04-01")),
		InsuranceType: master.InsuranceCare,
	})
	f.dir.AddCard(&master.InsuranceCard{
		FacilityID:        f.facility.ID,
		PatientID:         p.ID,
		InsuranceType:     master.InsuranceCare,
		InsurerNumber:     ptr("131011"),
		InsuredNumber:     ptr("0000012345"),
		CertificationDate: ptr(day("2023-10-01")),
		CopaymentRate:     ptr(10),
		ValidFrom:         day("2024-01-01"),
		ValidUntil:        ptr(day("2024-12-31")),
	})
	return p
}

// confirmed stores a confirmed, exportable June 2024 receipt for p.
func (f *fixture) confirmed(p *master.Patient, visitPoints int, lines ...receipt.BonusLine) *receipt.Receipt {
	bonus := 0
	for _, l := range lines {
		bonus += l.Points
	}
	return f.receipts.Put(&receipt.Receipt{
		Key: receipt.Key{
			FacilityID: f.facility.ID, PatientID: p.ID,
			Year: 2024, Month: 6, InsuranceType: master.InsuranceCare,
		},
		Totals: receipt.Totals{
			VisitCount:       2,
			TotalVisitPoints: visitPoints,
			TotalBonusPoints: bonus,
			TotalPoints:      visitPoints + bonus,
			TotalAmount:      (visitPoints + bonus) * 10,
			BonusBreakdown:   lines,
		},
		CanExportCSV: true,
		IsConfirmed:  true,
		ConfirmedBy:  ptr("billing-1"),
		ConfirmedAt:  ptr(day("2024-07-03")),
	})
}

func emergency() receipt.BonusLine {
	return receipt.BonusLine{BonusCode: "emergency_visit", BonusName: "緊急訪問加算", Count: 1, Points: 265}
}

func multiple() receipt.BonusLine {
	return receipt.BonusLine{BonusCode: "multiple_visit", BonusName: "複数回訪問加算", Count: 1, Points: 450}
}
