package receipt

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/houmon/houmon/internal/domain/visit"
	"github.com/houmon/houmon/pkg/caldate"
)

const (
	SkipConfirmed       = "receipt_confirmed"
	SkipNoInsuranceCard = "no_insurance_card"
)

// Skipped is a patient with visits in the month whose receipt was not
// written.
type Skipped struct {
	PatientID uuid.UUID  `json:"patient_id"`
	ReceiptID *uuid.UUID `json:"receipt_id,omitempty"`
	Reason    string     `json:"reason"`
}

type GenerateResult struct {
	Receipts []*Receipt `json:"receipts"`
	Created  int        `json:"created"`
	Updated  int        `json:"updated"`
	Skipped  []Skipped  `json:"skipped"`
}

// GenerateReceiptsForMonth writes one draft receipt per patient of the
// given insurance type with completed visits in the month. Running it twice
// over unchanged visits leaves the same receipts with the same totals.
// Confirmed receipts are never touched and are reported as skipped.
func (s *Service) GenerateReceiptsForMonth(ctx context.Context, facilityID uuid.UUID, year, month int, insuranceType string) (*GenerateResult, error) {
	if err := checkPeriod(year, month, insuranceType); err != nil {
		return nil, err
	}
	if _, err := s.dir.GetFacility(ctx, facilityID); err != nil {
		return nil, lookupErr("facility_id", err)
	}

	from, to := caldate.MonthRange(year, month)
	all, err := s.records.ListInPeriod(ctx, visit.PeriodQuery{
		FacilityID: facilityID, From: from, To: to, CompletedOnly: true,
	})
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	byPatient := map[uuid.UUID][]*visit.NursingRecord{}
	var patients []uuid.UUID
	for _, r := range all {
		if _, ok := byPatient[r.PatientID]; !ok {
			patients = append(patients, r.PatientID)
		}
		byPatient[r.PatientID] = append(byPatient[r.PatientID], r)
	}
	sort.Slice(patients, func(i, j int) bool { return bytes.Compare(patients[i][:], patients[j][:]) < 0 })

	res := &GenerateResult{Receipts: []*Receipt{}, Skipped: []Skipped{}}
	for _, pid := range patients {
		patient, err := s.dir.GetPatient(ctx, pid)
		if err != nil {
			return nil, fmt.Errorf("load patient %s: %w", pid, err)
		}
		if patient.InsuranceType != insuranceType {
			continue
		}
		cards, err := s.dir.ListInsuranceCards(ctx, pid)
		if err != nil {
			return nil, fmt.Errorf("list insurance cards of %s: %w", pid, err)
		}
		if !hasCardInMonth(cards, insuranceType, year, month) {
			res.Skipped = append(res.Skipped, Skipped{PatientID: pid, Reason: SkipNoInsuranceCard})
			s.metrics.ObserveReceipt("skipped")
			continue
		}

		k := Key{FacilityID: facilityID, PatientID: pid, Year: year, Month: month, InsuranceType: insuranceType}
		a, err := s.assemble(ctx, k, byPatient[pid], nil)
		if err != nil {
			return nil, err
		}
		written, inserted, err := s.receipts.UpsertDraft(ctx, a.receipt)
		if err != nil {
			return nil, fmt.Errorf("upsert receipt for patient %s: %w", pid, err)
		}
		if !written {
			skip := Skipped{PatientID: pid, Reason: SkipConfirmed}
			if existing, err := s.receipts.GetByKey(ctx, k); err == nil {
				skip.ReceiptID = &existing.ID
			}
			res.Skipped = append(res.Skipped, skip)
			s.metrics.ObserveReceipt("skipped")
			continue
		}
		if inserted {
			res.Created++
			s.metrics.ObserveReceipt("created")
		} else {
			res.Updated++
			s.metrics.ObserveReceipt("updated")
		}
		res.Receipts = append(res.Receipts, a.receipt)
	}

	s.logger.Info().
		Str("facility_id", facilityID.String()).
		Int("year", year).Int("month", month).
		Str("insurance_type", insuranceType).
		Int("created", res.Created).Int("updated", res.Updated).Int("skipped", len(res.Skipped)).
		Msg("monthly receipts generated")
	return res, nil
}
