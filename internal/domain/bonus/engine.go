package bonus

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/houmon/houmon/internal/domain/master"
	"github.com/houmon/houmon/internal/platform/apperr"
	"github.com/houmon/houmon/internal/platform/metrics"
)

// DefinitionSource returns the definitions that could apply to a visit:
// global ones plus those scoped to facilityID, for the insurance type, valid
// on date. Shadowing is left to ResolveDefinitions.
type DefinitionSource interface {
	ListCandidates(ctx context.Context, facilityID uuid.UUID, insuranceType string, date time.Time) ([]*Definition, error)
}

// Engine turns a visit context into the bonuses it earns. Definitions are
// read on every call; nothing is cached across requests except compiled
// expressions, which are keyed by their source text.
type Engine struct {
	defs    DefinitionSource
	exprs   *exprCompiler
	logger  zerolog.Logger
	metrics *metrics.Collectors
}

func NewEngine(defs DefinitionSource, logger zerolog.Logger, m *metrics.Collectors) *Engine {
	exprs, err := newExprCompiler()
	if err != nil {
		// The variable declarations are static.
		panic(err)
	}
	return &Engine{defs: defs, exprs: exprs, logger: logger, metrics: m}
}

// Evaluate loads the candidate definitions for ec and evaluates them. The
// error is non-nil only for invalid input or when definitions cannot be
// loaded; a broken definition is skipped.
func (e *Engine) Evaluate(ctx context.Context, ec EvaluationContext) ([]AppliedBonus, error) {
	if err := checkContext(&ec); err != nil {
		return nil, err
	}
	defs, err := e.defs.ListCandidates(ctx, ec.FacilityID, ec.InsuranceType, ec.VisitDate)
	if err != nil {
		return nil, fmt.Errorf("load bonus definitions: %w", err)
	}
	return e.EvaluateDefinitions(defs, ec), nil
}

func checkContext(ec *EvaluationContext) error {
	ve := &apperr.ValidationError{}
	if ec.FacilityID == uuid.Nil {
		ve.Add("facility_id", "is required")
	}
	if !master.ValidInsuranceType(ec.InsuranceType) {
		ve.Add("insurance_type", "must be medical or care")
	}
	if ec.VisitDate.IsZero() {
		ve.Add("visit_date", "is required")
	}
	return ve.OrNil()
}

// EvaluateDefinitions resolves defs for ec and returns the bonuses that
// apply, in display order. It never fails.
func (e *Engine) EvaluateDefinitions(defs []*Definition, ec EvaluationContext) []AppliedBonus {
	e.metrics.ObserveEvaluation(ec.InsuranceType)

	out := []AppliedBonus{}
	for _, d := range ResolveDefinitions(defs, ec.FacilityID, ec.InsuranceType, ec.VisitDate) {
		ab, ok, err := e.evaluateOne(d, &ec)
		if err != nil {
			e.logger.Warn().Err(err).
				Str("definition_id", d.ID.String()).
				Str("bonus_code", d.BonusCode).
				Int("version", d.Version).
				Msg("skipping malformed bonus definition")
			e.metrics.ObserveDefinitionError(d.BonusCode)
			continue
		}
		if !ok {
			continue
		}
		e.metrics.ObserveApplied(d.BonusCode)
		out = append(out, ab)
	}
	return out
}

func (e *Engine) evaluateOne(d *Definition, ec *EvaluationContext) (ab AppliedBonus, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok, err = false, fmt.Errorf("panic evaluating definition: %v", r)
		}
	}()

	params, err := parseConditionParams(d.ConditionParams)
	if err != nil {
		return ab, false, err
	}
	if err := checkPredicateParams(d.ConditionType, params); err != nil {
		return ab, false, err
	}
	hasExpr := d.ConditionExpr != nil && *d.ConditionExpr != ""
	if d.ConditionType == "expression" && !hasExpr {
		return ab, false, fmt.Errorf("expression condition without condition_expr")
	}

	if params.OncePerMonth && ec.MonthlyVisitCount > 1 {
		return ab, false, nil
	}

	matched, details := predicates[d.ConditionType](ec, params)
	if !matched {
		return ab, false, nil
	}
	if hasExpr {
		pass, err := e.exprs.evalBool(*d.ConditionExpr, ec)
		if err != nil {
			return ab, false, err
		}
		if !pass {
			return ab, false, nil
		}
	}

	points, ok, pointDetails, err := computePoints(d, ec, e.exprs)
	if err != nil || !ok || points == 0 {
		return ab, false, err
	}

	merged := map[string]interface{}{"condition_type": d.ConditionType}
	for k, v := range details {
		merged[k] = v
	}
	for k, v := range pointDetails {
		merged[k] = v
	}
	if params.OncePerMonth {
		merged["once_per_month"] = true
	}
	if d.FacilityID != nil {
		merged["scope"] = "facility"
	} else {
		merged["scope"] = "global"
	}

	return AppliedBonus{
		BonusCode:         d.BonusCode,
		BonusName:         d.BonusName,
		Points:            points,
		DefinitionID:      d.ID,
		DefinitionVersion: d.Version,
		Details:           merged,
	}, true, nil
}

// Check statically validates a definition: known predicate, parseable
// params and points config, and compiling expressions. Used by the catalog
// service before anything is written.
func (e *Engine) Check(d *Definition) error {
	params, err := parseConditionParams(d.ConditionParams)
	if err != nil {
		return err
	}
	if err := checkPredicateParams(d.ConditionType, params); err != nil {
		return err
	}
	if d.ConditionExpr != nil && *d.ConditionExpr != "" {
		if _, err := e.exprs.compile(*d.ConditionExpr, exprCondition); err != nil {
			return err
		}
	} else if d.ConditionType == "expression" {
		return fmt.Errorf("condition_type expression requires condition_expr")
	}

	switch d.PointsType {
	case PointsFixed:
		if d.FixedPoints == nil || *d.FixedPoints <= 0 {
			return fmt.Errorf("fixed points type requires positive fixed_points")
		}
	case PointsTiered:
		cfg, err := parsePointsConfig(d.PointsConfig)
		if err != nil {
			return err
		}
		return cfg.validateTiered()
	case PointsPercentage:
		cfg, err := parsePointsConfig(d.PointsConfig)
		if err != nil {
			return err
		}
		if cfg.Percent <= 0 {
			return fmt.Errorf("percentage points require a positive percent")
		}
	case PointsFormula:
		if d.PointsFormula == nil || *d.PointsFormula == "" {
			return fmt.Errorf("formula points type requires points_formula")
		}
		if _, err := e.exprs.compile(*d.PointsFormula, exprPoints); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown points_type %q", d.PointsType)
	}
	return nil
}
