package visit

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/houmon/houmon/internal/platform/apperr"
	"github.com/houmon/houmon/internal/platform/db"
	"github.com/houmon/houmon/internal/platform/lock"
	"github.com/houmon/houmon/pkg/caldate"
)

// Service is the nursing record write path. Every write recalculates all of
// the patient's records in the affected month under a (patient, month) lock,
// because adding, moving or deleting one visit can change the daily and
// monthly ordinals of its siblings.
type Service struct {
	records Repository
	calc    *Calculator
	locker  lock.Locker
	tx      db.TxRunner
	logger  zerolog.Logger
}

func NewService(records Repository, calc *Calculator, locker lock.Locker, tx db.TxRunner, logger zerolog.Logger) *Service {
	return &Service{records: records, calc: calc, locker: locker, tx: tx, logger: logger}
}

type monthKey struct {
	patientID uuid.UUID
	year      int
	month     time.Month
}

func keyOf(r *NursingRecord) monthKey {
	return monthKey{patientID: r.PatientID, year: r.VisitDate.Year(), month: r.VisitDate.Month()}
}

func (k monthKey) String() string {
	return fmt.Sprintf("nursing-record:%s:%04d-%02d", k.patientID, k.year, k.month)
}

// lockMonths acquires the locks in a fixed order so two writers moving
// records between the same months cannot deadlock.
func (s *Service) lockMonths(ctx context.Context, keys ...monthKey) (func(), error) {
	names := make([]string, 0, len(keys))
	seen := map[string]bool{}
	for _, k := range keys {
		if n := k.String(); !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	sort.Strings(names)

	var releases []func()
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	for _, n := range names {
		release, err := s.locker.Acquire(ctx, n)
		if err != nil {
			releaseAll()
			return nil, fmt.Errorf("lock %s: %w", n, err)
		}
		releases = append(releases, release)
	}
	return releaseAll, nil
}

// recalculateMonth recomputes and stores every record of the patient in the
// month, oldest first.
func (s *Service) recalculateMonth(ctx context.Context, facilityID uuid.UUID, k monthKey) error {
	from, to := caldate.MonthRange(k.year, int(k.month))
	recs, err := s.records.ListInPeriod(ctx, PeriodQuery{
		FacilityID: facilityID, PatientID: &k.patientID, From: from, To: to,
	})
	if err != nil {
		return fmt.Errorf("list month records: %w", err)
	}
	sort.Slice(recs, func(i, j int) bool { return visitBefore(recs[i], recs[j]) })

	for _, r := range recs {
		id := r.ID
		res, err := s.calc.Calculate(ctx, r, facilityID, &id)
		if err != nil {
			return fmt.Errorf("calculate record %s: %w", r.ID, err)
		}
		res.apply(r)
		if err := s.records.SaveCalculation(ctx, r); err != nil {
			return fmt.Errorf("save calculation of %s: %w", r.ID, err)
		}
	}
	return nil
}

// Create stores rec and recalculates its patient-month.
func (s *Service) Create(ctx context.Context, rec *NursingRecord) error {
	if rec.Status == "" {
		rec.Status = StatusDraft
	}
	if rec.FacilityID == uuid.Nil {
		return apperr.Invalid("facility_id", "is required")
	}
	if err := checkDraft(rec); err != nil {
		return err
	}
	rec.VisitDate = caldate.Normalize(rec.VisitDate)
	// Validates master references and the service code before anything is
	// written.
	if _, err := s.calc.Preview(ctx, rec, rec.FacilityID, nil); err != nil {
		return err
	}

	release, err := s.lockMonths(ctx, keyOf(rec))
	if err != nil {
		return err
	}
	defer release()

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.records.Create(ctx, rec); err != nil {
			return fmt.Errorf("create nursing record: %w", err)
		}
		return s.recalculateMonth(ctx, rec.FacilityID, keyOf(rec))
	})
	if err != nil {
		return err
	}
	return s.reload(ctx, rec)
}

// Update replaces the user-entered fields of rec. Facility and patient are
// fixed at creation.
func (s *Service) Update(ctx context.Context, rec *NursingRecord) error {
	existing, err := s.records.GetByID(ctx, rec.ID)
	if err != nil {
		return err
	}
	rec.FacilityID = existing.FacilityID
	rec.PatientID = existing.PatientID
	rec.CreatedAt = existing.CreatedAt
	if rec.Status == "" {
		rec.Status = existing.Status
	}
	if err := checkDraft(rec); err != nil {
		return err
	}
	rec.VisitDate = caldate.Normalize(rec.VisitDate)
	id := rec.ID
	if _, err := s.calc.Preview(ctx, rec, rec.FacilityID, &id); err != nil {
		return err
	}

	release, err := s.lockMonths(ctx, keyOf(existing), keyOf(rec))
	if err != nil {
		return err
	}
	defer release()

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.records.Update(ctx, rec); err != nil {
			return err
		}
		if err := s.recalculateMonth(ctx, rec.FacilityID, keyOf(rec)); err != nil {
			return err
		}
		if keyOf(existing) != keyOf(rec) {
			return s.recalculateMonth(ctx, rec.FacilityID, keyOf(existing))
		}
		return nil
	})
	if err != nil {
		return err
	}
	return s.reload(ctx, rec)
}

// Delete soft-deletes a record and recalculates the siblings it leaves
// behind.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	existing, err := s.records.GetByID(ctx, id)
	if err != nil {
		return err
	}
	release, err := s.lockMonths(ctx, keyOf(existing))
	if err != nil {
		return err
	}
	defer release()

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.records.SoftDelete(ctx, id); err != nil {
			return err
		}
		return s.recalculateMonth(ctx, existing.FacilityID, keyOf(existing))
	})
	if err != nil {
		return err
	}
	s.logger.Info().Str("record_id", id.String()).Msg("nursing record deleted")
	return nil
}

// PreviewPoints computes points for an unsaved draft, or for pending edits
// of a saved record when existingID is set. Nothing is written.
func (s *Service) PreviewPoints(ctx context.Context, draft *NursingRecord, facilityID uuid.UUID, existingID *uuid.UUID) (*Result, error) {
	if draft.Status == "" {
		draft.Status = StatusDraft
	}
	return s.calc.Preview(ctx, draft, facilityID, existingID)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*NursingRecord, error) {
	return s.records.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, f ListFilter, limit, offset int) ([]*NursingRecord, int, error) {
	return s.records.List(ctx, f, limit, offset)
}

func (s *Service) BonusHistory(ctx context.Context, id uuid.UUID) ([]*HistoryEntry, error) {
	if _, err := s.records.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.calc.BonusHistory(ctx, id)
}

func (s *Service) reload(ctx context.Context, rec *NursingRecord) error {
	fresh, err := s.records.GetByID(ctx, rec.ID)
	if err != nil {
		return err
	}
	*rec = *fresh
	return nil
}
