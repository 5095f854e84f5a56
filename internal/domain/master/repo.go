package master

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("not found")

// Directory is the read-only view of master data used by the billing
// engine. Rows are maintained elsewhere.
type Directory interface {
	GetFacility(ctx context.Context, id uuid.UUID) (*Facility, error)
	GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error)
	// ListPatients returns the facility's active patients.
	ListPatients(ctx context.Context, facilityID uuid.UUID) ([]*Patient, error)
	GetNurse(ctx context.Context, id uuid.UUID) (*Nurse, error)
	GetServiceCode(ctx context.Context, id uuid.UUID) (*ServiceCode, error)
	// FindServiceCode returns the code row valid on date.
	FindServiceCode(ctx context.Context, code string, date time.Time) (*ServiceCode, error)
	ListDoctorOrders(ctx context.Context, patientID uuid.UUID, from, to time.Time) ([]*DoctorOrder, error)
	ListInsuranceCards(ctx context.Context, patientID uuid.UUID) ([]*InsuranceCard, error)
}
