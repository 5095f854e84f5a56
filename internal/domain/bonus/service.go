package bonus

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/houmon/houmon/internal/domain/master"
	"github.com/houmon/houmon/internal/platform/apperr"
	"github.com/houmon/houmon/internal/platform/db"
	"github.com/houmon/houmon/pkg/caldate"
)

var bonusCodePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{1,49}$`)

type Service struct {
	repo   Repository
	engine *Engine
	tx     db.TxRunner
	logger zerolog.Logger
}

func NewService(repo Repository, engine *Engine, tx db.TxRunner, logger zerolog.Logger) *Service {
	return &Service{repo: repo, engine: engine, tx: tx, logger: logger}
}

func (s *Service) validate(d *Definition) error {
	ve := &apperr.ValidationError{}
	if !bonusCodePattern.MatchString(d.BonusCode) {
		ve.Add("bonus_code", "must be lower snake case, 2-50 characters")
	}
	if d.BonusName == "" {
		ve.Add("bonus_name", "is required")
	}
	if !master.ValidInsuranceType(d.InsuranceType) {
		ve.Add("insurance_type", "must be medical or care")
	}
	if d.ValidFrom.IsZero() {
		ve.Add("valid_from", "is required")
	} else if d.ValidTo != nil && caldate.Normalize(*d.ValidTo).Before(caldate.Normalize(d.ValidFrom)) {
		ve.Add("valid_to", "must not be before valid_from")
	}
	if d.DisplayOrder < 0 {
		ve.Add("display_order", "must not be negative")
	}
	if len(ve.Fields) == 0 {
		if err := s.engine.Check(d); err != nil {
			ve.Add("definition", err.Error())
		}
	}
	return ve.OrNil()
}

// CreateDefinition stores a new active definition. It fails with
// ErrOverlappingDefinition, and stores nothing, when an active definition
// with the same code and scope is valid on any of the same dates.
func (s *Service) CreateDefinition(ctx context.Context, d *Definition) error {
	d.ValidFrom = caldate.Normalize(d.ValidFrom)
	if d.ValidTo != nil {
		to := caldate.Normalize(*d.ValidTo)
		d.ValidTo = &to
	}
	d.IsActive = true
	if err := s.validate(d); err != nil {
		return err
	}
	return s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.checkOverlap(ctx, d); err != nil {
			return err
		}
		if err := s.repo.Create(ctx, d); err != nil {
			return fmt.Errorf("create bonus definition: %w", err)
		}
		s.logger.Info().
			Str("definition_id", d.ID.String()).
			Str("bonus_code", d.BonusCode).
			Msg("bonus definition created")
		return nil
	})
}

// UpdateDefinition replaces the mutable fields of an existing definition.
// Code, scope and insurance type cannot change; create a new definition
// instead.
func (s *Service) UpdateDefinition(ctx context.Context, d *Definition) error {
	existing, err := s.repo.GetByID(ctx, d.ID)
	if err != nil {
		return err
	}
	d.BonusCode = existing.BonusCode
	d.FacilityID = existing.FacilityID
	d.InsuranceType = existing.InsuranceType
	d.ValidFrom = caldate.Normalize(d.ValidFrom)
	if d.ValidTo != nil {
		to := caldate.Normalize(*d.ValidTo)
		d.ValidTo = &to
	}
	if err := s.validate(d); err != nil {
		return err
	}
	return s.tx.InTx(ctx, func(ctx context.Context) error {
		if d.IsActive {
			if err := s.checkOverlap(ctx, d); err != nil {
				return err
			}
		}
		return s.repo.Update(ctx, d)
	})
}

func (s *Service) checkOverlap(ctx context.Context, d *Definition) error {
	if err := s.repo.LockScope(ctx, d.BonusCode, d.FacilityID); err != nil {
		return fmt.Errorf("lock bonus scope: %w", err)
	}
	existing, err := s.repo.ListScope(ctx, d.BonusCode, d.InsuranceType, d.FacilityID)
	if err != nil {
		return fmt.Errorf("list bonus scope: %w", err)
	}
	if o := FindOverlap(d, existing); o != nil {
		to := "open"
		if o.ValidTo != nil {
			to = caldate.Format(*o.ValidTo)
		}
		return fmt.Errorf("%w: %s overlaps definition %s valid %s..%s",
			ErrOverlappingDefinition, d.BonusCode, o.ID, caldate.Format(o.ValidFrom), to)
	}
	return nil
}

// DeactivateDefinition is a soft delete; history rows keep referencing it.
func (s *Service) DeactivateDefinition(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Deactivate(ctx, id); err != nil {
		return err
	}
	s.logger.Info().Str("definition_id", id.String()).Msg("bonus definition deactivated")
	return nil
}

func (s *Service) GetDefinition(ctx context.Context, id uuid.UUID) (*Definition, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListDefinitions(ctx context.Context, f ListFilter, limit, offset int) ([]*Definition, int, error) {
	return s.repo.List(ctx, f, limit, offset)
}

// EffectiveDefinitions returns what the engine would evaluate for a facility
// on a date.
func (s *Service) EffectiveDefinitions(ctx context.Context, q EffectiveQuery) ([]*Definition, error) {
	defs, err := s.repo.ListCandidates(ctx, q.FacilityID, q.InsuranceType, q.Date)
	if err != nil {
		return nil, err
	}
	return ResolveDefinitions(defs, q.FacilityID, q.InsuranceType, q.Date), nil
}

func isValidation(err error) bool {
	var ve *apperr.ValidationError
	return errors.As(err, &ve)
}
