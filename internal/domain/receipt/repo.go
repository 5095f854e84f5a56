package receipt

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("receipt not found")

type ListFilter struct {
	FacilityID    *uuid.UUID
	PatientID     *uuid.UUID
	Year          int
	Month         int
	InsuranceType string
	State         string
}

// Repository persists receipts. The state-changing methods are conditional:
// they report false when the receipt is missing or its current state does
// not allow the change, and leave the row untouched.
type Repository interface {
	// UpsertDraft inserts r or overwrites the computed fields of the
	// receipt with the same key, unless that receipt is confirmed. On
	// success r.ID, r.Version and the timestamps are filled in.
	UpsertDraft(ctx context.Context, r *Receipt) (written, inserted bool, err error)
	GetByID(ctx context.Context, id uuid.UUID) (*Receipt, error)
	GetByKey(ctx context.Context, k Key) (*Receipt, error)
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Receipt, int, error)

	// UpdateComputed rewrites totals and findings of an unconfirmed receipt.
	UpdateComputed(ctx context.Context, r *Receipt) (bool, error)
	// SaveFindings stores validation results on an unconfirmed receipt.
	SaveFindings(ctx context.Context, id uuid.UUID, v Validation, c CSVValidation) (bool, error)
	// Confirm succeeds only while the receipt is unconfirmed and still at
	// version, so totals validated by the caller are the ones confirmed.
	Confirm(ctx context.Context, id uuid.UUID, version int, by string, at time.Time, v Validation, c CSVValidation) (bool, error)
	Reopen(ctx context.Context, id uuid.UUID) (bool, error)
	MarkSent(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	Delete(ctx context.Context, id uuid.UUID) (bool, error)
}
