package bonus

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// roundPoints rounds half away from zero.
func roundPoints(d decimal.Decimal) int {
	return int(d.Round(0).IntPart())
}

// computePoints applies d's points rule to ec. A false ok means a tiered
// table had no matching step and the bonus does not apply.
func computePoints(d *Definition, ec *EvaluationContext, exprs *exprCompiler) (points int, ok bool, details map[string]interface{}, err error) {
	switch d.PointsType {
	case PointsFixed:
		if d.FixedPoints == nil {
			return 0, false, nil, fmt.Errorf("fixed points type without fixed_points")
		}
		return *d.FixedPoints, true, map[string]interface{}{"points_rule": PointsFixed}, nil

	case PointsTiered:
		cfg, err := parsePointsConfig(d.PointsConfig)
		if err != nil {
			return 0, false, nil, err
		}
		if err := cfg.validateTiered(); err != nil {
			return 0, false, nil, err
		}
		by := cfg.By
		if by == "" {
			by = "daily_visit_count"
		}
		v, known := tierValue(by, ec)
		if !known {
			return 0, false, nil, nil
		}
		for _, t := range cfg.Tiers {
			if v >= t.Min && (t.Max == nil || v <= *t.Max) {
				return t.Points, true, map[string]interface{}{
					"points_rule": PointsTiered, "tier_by": by, "tier_value": v, "tier_min": t.Min,
				}, nil
			}
		}
		return 0, false, nil, nil

	case PointsPercentage:
		cfg, err := parsePointsConfig(d.PointsConfig)
		if err != nil {
			return 0, false, nil, err
		}
		if cfg.Percent <= 0 {
			return 0, false, nil, fmt.Errorf("percentage points need a positive percent")
		}
		raw := decimal.NewFromInt(int64(ec.BasePoints)).
			Mul(decimal.NewFromFloat(cfg.Percent)).
			Div(decimal.NewFromInt(100))
		return roundPoints(raw), true, map[string]interface{}{
			"points_rule": PointsPercentage, "percent": cfg.Percent, "base_points": ec.BasePoints,
		}, nil

	case PointsFormula:
		if d.PointsFormula == nil || *d.PointsFormula == "" {
			return 0, false, nil, fmt.Errorf("formula points type without points_formula")
		}
		raw, err := exprs.evalNumber(*d.PointsFormula, ec)
		if err != nil {
			return 0, false, nil, err
		}
		p := roundPoints(raw)
		if p < 0 {
			return 0, false, nil, fmt.Errorf("formula produced negative points %d", p)
		}
		return p, true, map[string]interface{}{"points_rule": PointsFormula, "raw": raw.String()}, nil
	}
	return 0, false, nil, fmt.Errorf("unknown points_type %q", d.PointsType)
}

func tierValue(by string, ec *EvaluationContext) (int, bool) {
	switch by {
	case "daily_visit_count":
		return ec.DailyVisitCount, true
	case "monthly_visit_count":
		return ec.MonthlyVisitCount, true
	case "duration_minutes":
		return ec.DurationMinutes(), true
	case "patient_age":
		if ec.PatientAge == nil {
			return 0, false
		}
		return *ec.PatientAge, true
	}
	return 0, false
}
