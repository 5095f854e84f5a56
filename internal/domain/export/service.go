package export

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/houmon/houmon/internal/domain/master"
	"github.com/houmon/houmon/internal/domain/receipt"
	"github.com/houmon/houmon/internal/platform/apperr"
)

// maxBatch bounds the receipts of one facility-month read in one pass.
const maxBatch = 10000

// Service gathers receipts and their master data into batches. It reads
// only; confirmation happens in the receipt lifecycle.
type Service struct {
	receipts receipt.Repository
	dir      master.Directory
	logger   zerolog.Logger
}

func NewService(receipts receipt.Repository, dir master.Directory, logger zerolog.Logger) *Service {
	return &Service{receipts: receipts, dir: dir, logger: logger}
}

func (s *Service) Lookup(ctx context.Context, id uuid.UUID) (*receipt.Receipt, error) {
	return s.receipts.GetByID(ctx, id)
}

// ReceiptBatch returns a batch holding the single receipt r.
func (s *Service) ReceiptBatch(ctx context.Context, r *receipt.Receipt) (*Batch, error) {
	return s.batch(ctx, r.FacilityID, r.Year, r.Month, r.InsuranceType, []*receipt.Receipt{r})
}

// PeriodBatch returns every receipt of the facility for the month and
// insurance type, ordered by patient number.
func (s *Service) PeriodBatch(ctx context.Context, facilityID uuid.UUID, year, month int, insuranceType string) (*Batch, error) {
	ve := &apperr.ValidationError{}
	if month < 1 || month > 12 {
		ve.Add("month", "must be between 1 and 12")
	}
	if !master.ValidInsuranceType(insuranceType) {
		ve.Add("insurance_type", "must be medical or care")
	}
	if err := ve.OrNil(); err != nil {
		return nil, err
	}
	items, _, err := s.receipts.List(ctx, receipt.ListFilter{
		FacilityID: &facilityID, Year: year, Month: month, InsuranceType: insuranceType,
	}, maxBatch, 0)
	if err != nil {
		return nil, fmt.Errorf("list receipts: %w", err)
	}
	if len(items) == 0 {
		return nil, ErrNoReceipts
	}
	return s.batch(ctx, facilityID, year, month, insuranceType, items)
}

func (s *Service) batch(ctx context.Context, facilityID uuid.UUID, year, month int, insuranceType string, items []*receipt.Receipt) (*Batch, error) {
	facility, err := s.dir.GetFacility(ctx, facilityID)
	if err != nil {
		return nil, fmt.Errorf("load facility: %w", err)
	}
	b := &Batch{Facility: facility, Year: year, Month: month, InsuranceType: insuranceType}

	var blocked []Blocked
	for _, r := range items {
		row, reason, errs, err := s.row(ctx, facility, r)
		if err != nil {
			return nil, err
		}
		if reason != "" {
			blocked = append(blocked, Blocked{ReceiptID: r.ID, PatientID: r.PatientID, Reason: reason, Errors: errs})
			continue
		}
		b.Rows = append(b.Rows, row)
	}
	if len(blocked) > 0 {
		s.logger.Info().
			Str("facility_id", facilityID.String()).
			Int("year", year).Int("month", month).
			Int("blocked", len(blocked)).
			Msg("receipt export refused")
		return nil, &NotReadyError{Blocked: blocked}
	}

	sort.Slice(b.Rows, func(i, j int) bool {
		return b.Rows[i].Patient.PatientNumber < b.Rows[j].Patient.PatientNumber
	})
	return b, nil
}

// row loads the master data of r and checks export readiness against the
// current master data as well as the flags stored on r.
func (s *Service) row(ctx context.Context, facility *master.Facility, r *receipt.Receipt) (Row, string, []receipt.Message, error) {
	if reason := Ready(r); reason != "" {
		return Row{}, reason, r.CSVExportErrors, nil
	}
	patient, err := s.dir.GetPatient(ctx, r.PatientID)
	if errors.Is(err, master.ErrNotFound) {
		return Row{}, BlockedCSVErrors, []receipt.Message{{Code: "PATIENT_MISSING", Message: "patient no longer exists"}}, nil
	}
	if err != nil {
		return Row{}, "", nil, fmt.Errorf("load patient %s: %w", r.PatientID, err)
	}
	cards, err := s.dir.ListInsuranceCards(ctx, r.PatientID)
	if err != nil {
		return Row{}, "", nil, fmt.Errorf("load insurance cards of %s: %w", r.PatientID, err)
	}
	live := receipt.ValidateCSV(&receipt.CSVInput{
		Facility: facility, Patient: patient, Cards: cards,
		Year: r.Year, Month: r.Month, InsuranceType: r.InsuranceType,
	})
	if !live.CanExportCSV {
		return Row{}, BlockedCSVErrors, live.Errors, nil
	}
	return Row{Receipt: r, Patient: patient, Card: cardFor(cards, r)}, "", nil, nil
}

// cardFor picks the latest active card of the receipt's insurance type that
// is valid in its month.
func cardFor(cards []*master.InsuranceCard, r *receipt.Receipt) *master.InsuranceCard {
	var best *master.InsuranceCard
	for _, c := range cards {
		if c.InsuranceType != r.InsuranceType || !c.OverlapsMonth(r.Year, r.Month) {
			continue
		}
		if best == nil || c.ValidFrom.After(best.ValidFrom) {
			best = c
		}
	}
	return best
}
