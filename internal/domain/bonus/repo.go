package bonus

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound              = errors.New("bonus definition not found")
	ErrOverlappingDefinition = errors.New("overlapping bonus definition")
)

type ListFilter struct {
	// FacilityID limits results to that facility's definitions plus the
	// global ones. Nil lists everything.
	FacilityID    *uuid.UUID
	GlobalOnly    bool
	InsuranceType string
	BonusCode     string
	ActiveOnly    bool
}

type Repository interface {
	DefinitionSource
	Create(ctx context.Context, d *Definition) error
	Update(ctx context.Context, d *Definition) error
	GetByID(ctx context.Context, id uuid.UUID) (*Definition, error)
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Definition, int, error)
	// ListScope returns the active definitions with the code and insurance
	// type in the same scope (global when facilityID is nil).
	ListScope(ctx context.Context, code, insuranceType string, facilityID *uuid.UUID) ([]*Definition, error)
	// LockScope blocks other writers of the same code and scope until the
	// surrounding transaction ends.
	LockScope(ctx context.Context, code string, facilityID *uuid.UUID) error
	Deactivate(ctx context.Context, id uuid.UUID) error
}
