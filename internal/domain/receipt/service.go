package receipt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/houmon/houmon/internal/domain/master"
	"github.com/houmon/houmon/internal/domain/visit"
	"github.com/houmon/houmon/internal/platform/apperr"
	"github.com/houmon/houmon/internal/platform/metrics"
	"github.com/houmon/houmon/pkg/caldate"
)

type Options struct {
	YenPerPoint      int
	LongVisitMinutes int
	Metrics          *metrics.Collectors
}

// Service aggregates nursing records into monthly receipts and drives the
// receipt lifecycle.
type Service struct {
	receipts    Repository
	records     visit.Repository
	history     visit.HistoryRepository
	dir         master.Directory
	validator   *Validator
	yenPerPoint int
	metrics     *metrics.Collectors
	logger      zerolog.Logger
	now         func() time.Time
}

func NewService(receipts Repository, records visit.Repository, history visit.HistoryRepository,
	dir master.Directory, opts Options, logger zerolog.Logger) *Service {
	if opts.YenPerPoint <= 0 {
		opts.YenPerPoint = 10
	}
	return &Service{
		receipts:    receipts,
		records:     records,
		history:     history,
		dir:         dir,
		validator:   NewValidator(opts.LongVisitMinutes),
		yenPerPoint: opts.YenPerPoint,
		metrics:     opts.Metrics,
		logger:      logger,
		now:         time.Now,
	}
}

func checkPeriod(year, month int, insuranceType string) error {
	ve := &apperr.ValidationError{}
	if year < 2000 || year > 2999 {
		ve.Add("year", "must be a four-digit year")
	}
	if month < 1 || month > 12 {
		ve.Add("month", "must be between 1 and 12")
	}
	if !master.ValidInsuranceType(insuranceType) {
		ve.Add("insurance_type", "must be medical or care")
	}
	return ve.OrNil()
}

// assembly is a freshly computed receipt with its findings.
type assembly struct {
	receipt    *Receipt
	validation Validation
	csv        CSVValidation
}

// assemble recomputes the receipt for k from the current records. stored,
// when given, is compared against the fresh totals.
func (s *Service) assemble(ctx context.Context, k Key, records []*visit.NursingRecord, stored *Receipt) (*assembly, error) {
	facility, err := s.dir.GetFacility(ctx, k.FacilityID)
	if err != nil {
		return nil, fmt.Errorf("load facility %s: %w", k.FacilityID, err)
	}
	patient, err := s.dir.GetPatient(ctx, k.PatientID)
	if err != nil {
		return nil, fmt.Errorf("load patient %s: %w", k.PatientID, err)
	}
	from, to := caldate.MonthRange(k.Year, k.Month)
	// Drafts count toward same-day ordinals but are not billed.
	pid := k.PatientID
	siblings, err := s.records.ListInPeriod(ctx, visit.PeriodQuery{
		FacilityID: k.FacilityID, PatientID: &pid, From: from, To: to,
	})
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	if records == nil {
		records = make([]*visit.NursingRecord, 0, len(siblings))
		for _, r := range siblings {
			if r.IsCompleted() {
				records = append(records, r)
			}
		}
	}
	ids := make([]uuid.UUID, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	history, err := s.history.ListByRecords(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("list bonus history: %w", err)
	}
	orders, err := s.dir.ListDoctorOrders(ctx, k.PatientID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list doctor orders: %w", err)
	}
	cards, err := s.dir.ListInsuranceCards(ctx, k.PatientID)
	if err != nil {
		return nil, fmt.Errorf("list insurance cards: %w", err)
	}

	totals := ComputeTotals(records, history, patient.BuildingID, s.yenPerPoint)
	v := s.validator.Validate(&Input{
		Key: k, Patient: patient, Records: records, Siblings: siblings, History: history,
		Orders: orders, Cards: cards, Totals: totals, Stored: stored,
	})
	c := ValidateCSV(&CSVInput{
		Facility: facility, Patient: patient, Cards: cards,
		Year: k.Year, Month: k.Month, InsuranceType: k.InsuranceType,
	})

	r := &Receipt{Key: k, Totals: totals}
	if stored != nil {
		r.ID = stored.ID
	}
	r.applyValidation(v)
	r.applyCSV(c)
	return &assembly{receipt: r, validation: v, csv: c}, nil
}

func hasCardInMonth(cards []*master.InsuranceCard, insuranceType string, year, month int) bool {
	for _, c := range cards {
		if c.InsuranceType == insuranceType && c.OverlapsMonth(year, month) {
			return true
		}
	}
	return false
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Receipt, error) {
	return s.receipts.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Receipt, int, error) {
	return s.receipts.List(ctx, f, limit, offset)
}

// ValidateReceipt re-runs validation for a stored receipt. Findings are
// written back while the receipt is a draft; a confirmed receipt is left
// untouched.
func (s *Service) ValidateReceipt(ctx context.Context, id uuid.UUID) (*Validation, error) {
	stored, err := s.receipts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	a, err := s.assemble(ctx, stored.Key, nil, stored)
	if err != nil {
		return nil, err
	}
	if !stored.IsConfirmed {
		if _, err := s.receipts.SaveFindings(ctx, id, a.validation, a.csv); err != nil {
			return nil, fmt.Errorf("save findings of %s: %w", id, err)
		}
	}
	return &a.validation, nil
}

// ValidateCsvExport checks export readiness for a patient-month across the
// patient's cards valid in that month.
func (s *Service) ValidateCsvExport(ctx context.Context, facilityID, patientID uuid.UUID, year, month int) (*CSVValidation, error) {
	ve := &apperr.ValidationError{}
	if year < 2000 || year > 2999 {
		ve.Add("year", "must be a four-digit year")
	}
	if month < 1 || month > 12 {
		ve.Add("month", "must be between 1 and 12")
	}
	if err := ve.OrNil(); err != nil {
		return nil, err
	}
	facility, err := s.dir.GetFacility(ctx, facilityID)
	if err != nil {
		return nil, lookupErr("facility_id", err)
	}
	patient, err := s.dir.GetPatient(ctx, patientID)
	if err != nil {
		return nil, lookupErr("patient_id", err)
	}
	if patient.FacilityID != facilityID {
		return nil, apperr.Invalid("patient_id", "patient does not belong to the facility")
	}
	cards, err := s.dir.ListInsuranceCards(ctx, patientID)
	if err != nil {
		return nil, err
	}
	c := ValidateCSV(&CSVInput{Facility: facility, Patient: patient, Cards: cards, Year: year, Month: month})
	return &c, nil
}

func lookupErr(field string, err error) error {
	if errors.Is(err, master.ErrNotFound) {
		return apperr.Invalid(field, "not found")
	}
	return err
}
