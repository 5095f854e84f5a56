package bonus

import (
	"fmt"
	"math"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/shopspring/decimal"
)

// exprCompiler compiles condition_expr and points_formula sources against
// the visit variables. Programs are cached by source text; a changed
// definition has a different source and compiles afresh.
type exprCompiler struct {
	env *cel.Env

	mu    sync.RWMutex
	cache map[string]cel.Program
}

func newExprCompiler() (*exprCompiler, error) {
	env, err := cel.NewEnv(
		cel.Variable("insurance_type", cel.StringType),
		cel.Variable("base_points", cel.IntType),
		cel.Variable("daily_visit_count", cel.IntType),
		cel.Variable("monthly_visit_count", cel.IntType),
		cel.Variable("duration_minutes", cel.IntType),
		cel.Variable("start_hour", cel.IntType),
		cel.Variable("weekday", cel.IntType),
		cel.Variable("patient_age", cel.IntType),
		cel.Variable("is_emergency", cel.BoolType),
		cel.Variable("is_multiple_staff", cel.BoolType),
		cel.Variable("is_first_visit_of_plan", cel.BoolType),
		cel.Variable("is_discharge_date_visit", cel.BoolType),
		cel.Variable("is_terminal_care", cel.BoolType),
		cel.Variable("has_24h_support", cel.BoolType),
		cel.Variable("has_emergency_support", cel.BoolType),
		cel.Variable("has_burden_reduction", cel.BoolType),
		cel.Variable("special_management_types", cel.ListType(cel.StringType)),
		cel.Variable("nurse_certifications", cel.ListType(cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("build CEL environment: %w", err)
	}
	return &exprCompiler{env: env, cache: make(map[string]cel.Program)}, nil
}

type exprKind int

const (
	exprCondition exprKind = iota
	exprPoints
)

func (c *exprCompiler) compile(src string, kind exprKind) (cel.Program, error) {
	c.mu.RLock()
	prg, ok := c.cache[src]
	c.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, iss := c.env.Compile(src)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("compile %q: %w", src, iss.Err())
	}
	out := ast.OutputType()
	switch kind {
	case exprCondition:
		if !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
			return nil, fmt.Errorf("expression %q must evaluate to bool, got %s", src, out)
		}
	case exprPoints:
		if !out.IsExactType(cel.IntType) && !out.IsExactType(cel.DoubleType) &&
			!out.IsExactType(cel.UintType) && !out.IsExactType(cel.DynType) {
			return nil, fmt.Errorf("formula %q must evaluate to a number, got %s", src, out)
		}
	}

	prg, err := c.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program %q: %w", src, err)
	}
	c.mu.Lock()
	c.cache[src] = prg
	c.mu.Unlock()
	return prg, nil
}

// activation exposes ec to CEL. Unknown age is -1 so expressions can test
// for it.
func activation(ec *EvaluationContext) map[string]interface{} {
	age := int64(-1)
	if ec.PatientAge != nil {
		age = int64(*ec.PatientAge)
	}
	strs := func(s []string) []string {
		if s == nil {
			return []string{}
		}
		return s
	}
	return map[string]interface{}{
		"insurance_type":           ec.InsuranceType,
		"base_points":              int64(ec.BasePoints),
		"daily_visit_count":        int64(ec.DailyVisitCount),
		"monthly_visit_count":      int64(ec.MonthlyVisitCount),
		"duration_minutes":         int64(ec.DurationMinutes()),
		"start_hour":               int64(ec.StartHour()),
		"weekday":                  int64(ec.VisitDate.Weekday()),
		"patient_age":              age,
		"is_emergency":             ec.EmergencyVisitReason != "",
		"is_multiple_staff":        ec.IsMultipleStaff,
		"is_first_visit_of_plan":   ec.IsFirstVisitOfPlan,
		"is_discharge_date_visit":  ec.IsDischargeDateVisit,
		"is_terminal_care":         ec.IsTerminalCare,
		"has_24h_support":          ec.Has24HourSupport,
		"has_emergency_support":    ec.HasEmergencySupport,
		"has_burden_reduction":     ec.HasBurdenReduction,
		"special_management_types": strs(ec.SpecialManagementTypes),
		"nurse_certifications":     strs(ec.NurseCertifications),
	}
}

func (c *exprCompiler) evalBool(src string, ec *EvaluationContext) (bool, error) {
	prg, err := c.compile(src, exprCondition)
	if err != nil {
		return false, err
	}
	out, _, err := prg.Eval(activation(ec))
	if err != nil {
		return false, fmt.Errorf("evaluate %q: %w", src, err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression %q returned %T, want bool", src, out.Value())
	}
	return b, nil
}

func (c *exprCompiler) evalNumber(src string, ec *EvaluationContext) (decimal.Decimal, error) {
	prg, err := c.compile(src, exprPoints)
	if err != nil {
		return decimal.Zero, err
	}
	out, _, err := prg.Eval(activation(ec))
	if err != nil {
		return decimal.Zero, fmt.Errorf("evaluate %q: %w", src, err)
	}
	switch v := out.Value().(type) {
	case int64:
		return decimal.NewFromInt(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return decimal.Zero, fmt.Errorf("formula %q overflowed", src)
		}
		return decimal.NewFromInt(int64(v)), nil
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return decimal.Zero, fmt.Errorf("formula %q returned %v", src, v)
		}
		return decimal.NewFromFloat(v), nil
	default:
		return decimal.Zero, fmt.Errorf("formula %q returned %T, want a number", src, v)
	}
}
