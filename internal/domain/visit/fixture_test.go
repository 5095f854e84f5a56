package visit_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/houmon/houmon/internal/domain/bonus"
	"github.com/houmon/houmon/internal/domain/master"
	"github.com/houmon/houmon/internal/domain/master/mastertest"
	"github.com/houmon/houmon/internal/domain/visit"
	"github.com/houmon/houmon/internal/domain/visit/visittest"
	"github.com/houmon/houmon/internal/platform/db"
	"github.com/houmon/houmon/internal/platform/lock"
)

var jst = time.FixedZone("JST", 9*3600)

type fixture struct {
	dir      *mastertest.Directory
	records  *visittest.Records
	history  *visittest.History
	calc     *visit.Calculator
	svc      *visit.Service
	facility *master.Facility
	patient  *master.Patient
	base     *master.ServiceCode
}

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
			ConditionType: "emergency_visit", ValidFrom: day("2024-06-01"), IsActive: true, Version: 1,
			DisplayOrder: 10,
		},
		{
			ID: uuid.New(), BonusCode: "multiple_visit", BonusName: "複数回訪問加算",
			InsuranceType: insuranceType, PointsType: bonus.PointsTiered, PointsConfig: tiers,
			ConditionType: "multiple_visits", ValidFrom: day("2024-06-01"), IsActive: true, Version: 1,
			DisplayOrder: 30,
		},
	}
}

func newFixture(t *testing.T, insuranceType string) *fixture {
	t.Helper()
	f := &fixture{
		dir:     mastertest.New(),
		records: visittest.NewRecords(),
		history: visittest.NewHistory(),
	}
	f.facility = f.dir.AddFacility(&master.Facility{Name: "Sakura Station"})
	f.patient = f.dir.AddPatient(&master.Patient{
		FacilityID:    f.facility.ID,
		PatientNumber: "P-001",
		LastName:      "山田",
		FirstName:     "花子",
		BirthDate:     ptr(day("1940-04-01")),
		InsuranceType: insuranceType,
	})
	if insuranceType == master.InsuranceCare {
		f.base = f.dir.AddServiceCode(master.DefaultCareServiceCode, master.InsuranceCare, 471)
	} else {
		f.base = f.dir.AddServiceCode(master.DefaultMedicalServiceCode, master.InsuranceMedical, 5550)
	}

	engine := bonus.NewEngine(bonus.StaticSource(definitions(insuranceType)), zerolog.Nop(), nil)
	f.calc = visit.NewCalculator(f.records, f.history, f.dir, engine, db.NoTx{}, jst, zerolog.Nop())
	f.svc = visit.NewService(f.records, f.calc, lock.NewLocal(), db.NoTx{}, zerolog.Nop())
	return f
}

func (f *fixture) draft(date, start, end string) *visit.NursingRecord {
	r := &visit.NursingRecord{
		FacilityID: f.facility.ID,
		PatientID:  f.patient.ID,
		VisitDate:  day(date),
		Status:     visit.StatusCompleted,
	}
	if start != "" {
		r.ActualStartTime = at(date, start)
	}
	if end != "" {
		r.ActualEndTime = at(date, end)
	}
	return r
}

func codes(bs []bonus.AppliedBonus) []string {
	out := []string{}
	for _, b := range bs {
		out = append(out, b.BonusCode)
	}
	return out
}
