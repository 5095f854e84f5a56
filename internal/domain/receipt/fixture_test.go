package receipt_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/houmon/houmon/internal/domain/bonus"
	"github.com/houmon/houmon/internal/domain/master"
	"github.com/houmon/houmon/internal/domain/master/mastertest"
	"github.com/houmon/houmon/internal/domain/receipt"
	"github.com/houmon/houmon/internal/domain/receipt/receipttest"
	"github.com/houmon/houmon/internal/domain/visit"
	"github.com/houmon/houmon/internal/domain/visit/visittest"
	"github.com/houmon/houmon/internal/platform/db"
	"github.com/houmon/houmon/internal/platform/lock"
)

var jst = time.FixedZone("JST", 9*3600)

func ptr[T any](v T) *T { return &v }

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func at(date, hhmm string) *time.Time {
	t, err := time.ParseInLocation("2006-01-02 15:04", date+" "+hhmm, jst)
	if err != nil {
		panic(err)
	}
	return &t
}

type fixture struct {
	dir      *mastertest.Directory
	records  *visittest.Records
	history  *visittest.History
	receipts *receipttest.Receipts
	visits   *visit.Service
	svc      *receipt.Service
	facility *master.Facility
	patient  *master.Patient
	card     *master.InsuranceCard
}

func definitions(insuranceType string) []*bonus.Definition {
	tiers, _ := json.Marshal(map[string]interface{}{
		"by": "daily_visit_count",
		"tiers": []map[string]interface{}{
			{"min": 2, "max": 2, "points": 450},
			{"min": 3, "points": 800},
		},
	})
	return []*bonus.Definition{
		{
			ID: uuid.New(), BonusCode: "emergency_visit", BonusName: "緊急訪問加算",
			InsuranceType: insuranceType, PointsType: bonus.PointsFixed, FixedPoints: ptr(265),
			ConditionType: "emergency_visit", ValidFrom: day("2024-01-01"), IsActive: true, Version: 1,
			DisplayOrder: 10,
		},
		{
			ID: uuid.New(), BonusCode: "multiple_visit", BonusName: "複数回訪問加算",
			InsuranceType: insuranceType, PointsType: bonus.PointsTiered, PointsConfig: tiers,
			ConditionType: "multiple_visits", ValidFrom: day("2024-01-01"), IsActive: true, Version: 1,
			DisplayOrder: 30,
		},
	}
}

// newFixture builds a care-insurance patient with a doctor's order and an
// insurance card covering 2024, at a facility with complete export data.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		dir:      mastertest.New(),
		records:  visittest.NewRecords(),
		history:  visittest.NewHistory(),
		receipts: receipttest.NewReceipts(),
	}
	f.facility = f.dir.AddFacility(&master.Facility{
		Name:            "Sakura Station",
		InstitutionCode: ptr("1312345678"),
		PrefectureCode:  ptr("13"),
	})
	f.patient = f.dir.AddPatient(&master.Patient{
		FacilityID:    f.facility.ID,
		PatientNumber: "P-001",
		LastName:      "山田",
		FirstName:     "花子",
		BirthDate:     ptr(day("1940-04-01")),
		InsuranceType: master.InsuranceCare,
	})
	f.dir.AddServiceCode(master.DefaultCareServiceCode, master.InsuranceCare, 471)
	f.dir.AddOrder(f.patient.ID, f.facility.ID, day("2024-01-01"), day("2024-12-31"))
	f.card = f.dir.AddCard(&master.InsuranceCard{
		FacilityID:        f.facility.ID,
		PatientID:         f.patient.ID,
		InsuranceType:     master.InsuranceCare,
		InsurerNumber:     ptr("131011"),
		InsuredNumber:     ptr("0000012345"),
		CertificationDate: ptr(day("2023-10-01")),
		CopaymentRate:     ptr(10),
		ValidFrom:         day("2024-01-01"),
		ValidUntil:        ptr(day("2024-12-31")),
	})

	engine := bonus.NewEngine(bonus.StaticSource(definitions(master.InsuranceCare)), zerolog.Nop(), nil)
	calc := visit.NewCalculator(f.records, f.history, f.dir, engine, db.NoTx{}, jst, zerolog.Nop())
	f.visits = visit.NewService(f.records, calc, lock.NewLocal(), db.NoTx{}, zerolog.Nop())
	f.svc = receipt.NewService(f.receipts, f.records, f.history, f.dir,
		receipt.Options{YenPerPoint: 10, LongVisitMinutes: 90}, zerolog.Nop())
	return f
}

func (f *fixture) visit(t *testing.T, date, start, end string, edit ...func(*visit.NursingRecord)) *visit.NursingRecord {
	t.Helper()
	r := &visit.NursingRecord{
		FacilityID:      f.facility.ID,
		PatientID:       f.patient.ID,
		VisitDate:       day(date),
		ActualStartTime: at(date, start),
		ActualEndTime:   at(date, end),
		Status:          visit.StatusCompleted,
	}
	for _, e := range edit {
		e(r)
	}
	require.NoError(t, f.visits.Create(context.Background(), r))
	return r
}

func emergency(reason string) func(*visit.NursingRecord) {
	return func(r *visit.NursingRecord) { r.EmergencyVisitReason = &reason }
}

// generate runs June 2024 care generation and returns the patient's receipt.
func (f *fixture) generate(t *testing.T) (*receipt.GenerateResult, *receipt.Receipt) {
	t.Helper()
	res, err := f.svc.GenerateReceiptsForMonth(context.Background(), f.facility.ID, 2024, 6, master.InsuranceCare)
	require.NoError(t, err)
	for _, r := range res.Receipts {
		if r.PatientID == f.patient.ID {
			return res, r
		}
	}
	return res, nil
}

func messageCodes(ms []receipt.Message) []string {
	out := []string{}
	for _, m := range ms {
		out = append(out, m.Code)
	}
	return out
}
