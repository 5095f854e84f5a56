package visit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("nursing record not found")

// PeriodQuery selects non-deleted records of a facility with visit dates in
// [From, To].
type PeriodQuery struct {
	FacilityID    uuid.UUID
	PatientID     *uuid.UUID
	From          time.Time
	To            time.Time
	CompletedOnly bool
}

type ListFilter struct {
	FacilityID *uuid.UUID
	PatientID  *uuid.UUID
	From       *time.Time
	To         *time.Time
	Status     string
}

type Repository interface {
	Create(ctx context.Context, r *NursingRecord) error
	// Update writes the user-entered fields.
	Update(ctx context.Context, r *NursingRecord) error
	// SaveCalculation writes the derived fields only.
	SaveCalculation(ctx context.Context, r *NursingRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*NursingRecord, error)
	SoftDelete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*NursingRecord, int, error)
	// ListSameDay returns the patient's other non-deleted records at the
	// facility on date. excluding may be nil.
	ListSameDay(ctx context.Context, patientID, facilityID uuid.UUID, date time.Time, excluding *uuid.UUID) ([]*NursingRecord, error)
	ListInPeriod(ctx context.Context, q PeriodQuery) ([]*NursingRecord, error)
}

type HistoryRepository interface {
	// ReplaceForRecord deletes the record's rows and inserts entries.
	ReplaceForRecord(ctx context.Context, recordID uuid.UUID, entries []*HistoryEntry) error
	ListByRecord(ctx context.Context, recordID uuid.UUID) ([]*HistoryEntry, error)
	ListByRecords(ctx context.Context, recordIDs []uuid.UUID) (map[uuid.UUID][]*HistoryEntry, error)
}
