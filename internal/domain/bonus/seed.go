package bonus

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

//go:embed catalog/default.yaml
var defaultCatalog []byte

type catalogFile struct {
	Definitions []catalogEntry `yaml:"definitions"`
}

type catalogEntry struct {
	BonusCode       string                 `yaml:"bonus_code"`
	BonusName       string                 `yaml:"bonus_name"`
	Description     *string                `yaml:"description"`
	InsuranceType   string                 `yaml:"insurance_type"`
	PointsType      string                 `yaml:"points_type"`
	FixedPoints     *int                   `yaml:"fixed_points"`
	PointsConfig    map[string]interface{} `yaml:"points_config"`
	PointsFormula   *string                `yaml:"points_formula"`
	ConditionType   string                 `yaml:"condition_type"`
	ConditionParams map[string]interface{} `yaml:"condition_params"`
	ConditionExpr   *string                `yaml:"condition_expr"`
	ValidFrom       time.Time              `yaml:"valid_from"`
	ValidTo         *time.Time             `yaml:"valid_to"`
	DisplayOrder    int                    `yaml:"display_order"`
}

func rawJSON(m map[string]interface{}) (json.RawMessage, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// LoadCatalog parses a YAML catalog into global definitions.
func LoadCatalog(r io.Reader) ([]*Definition, error) {
	var f catalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse bonus catalog: %w", err)
	}

	out := make([]*Definition, 0, len(f.Definitions))
	for i, e := range f.Definitions {
		pc, err := rawJSON(e.PointsConfig)
		if err != nil {
			return nil, fmt.Errorf("definition %d (%s): points_config: %w", i, e.BonusCode, err)
		}
		cp, err := rawJSON(e.ConditionParams)
		if err != nil {
			return nil, fmt.Errorf("definition %d (%s): condition_params: %w", i, e.BonusCode, err)
		}
		out = append(out, &Definition{
			BonusCode:       e.BonusCode,
			BonusName:       e.BonusName,
			Description:     e.Description,
			InsuranceType:   e.InsuranceType,
			PointsType:      e.PointsType,
			FixedPoints:     e.FixedPoints,
			PointsConfig:    pc,
			PointsFormula:   e.PointsFormula,
			ConditionType:   e.ConditionType,
			ConditionParams: cp,
			ConditionExpr:   e.ConditionExpr,
			ValidFrom:       e.ValidFrom,
			ValidTo:         e.ValidTo,
			DisplayOrder:    e.DisplayOrder,
			IsActive:        true,
		})
	}
	return out, nil
}

// DefaultCatalog returns the catalog compiled into the binary.
func DefaultCatalog() ([]*Definition, error) {
	return LoadCatalog(bytes.NewReader(defaultCatalog))
}

type SeedResult struct {
	Created int `json:"created"`
	Skipped int `json:"skipped"`
	Invalid int `json:"invalid"`
}

// Seed creates each definition, scoped to facilityID when given. Entries
// that overlap an existing definition are skipped, so seeding twice is
// harmless.
func (s *Service) Seed(ctx context.Context, defs []*Definition, facilityID *uuid.UUID) (SeedResult, error) {
	var res SeedResult
	for _, d := range defs {
		d.FacilityID = facilityID
		err := s.CreateDefinition(ctx, d)
		switch {
		case err == nil:
			res.Created++
		case errors.Is(err, ErrOverlappingDefinition):
			res.Skipped++
			s.logger.Info().Str("bonus_code", d.BonusCode).Str("insurance_type", d.InsuranceType).
				Msg("catalog entry already present, skipped")
		case isValidation(err):
			res.Invalid++
			s.logger.Warn().Err(err).Str("bonus_code", d.BonusCode).Msg("catalog entry rejected")
		default:
			return res, err
		}
	}
	return res, nil
}
