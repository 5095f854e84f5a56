package bonus

import (
	"fmt"

	"github.com/houmon/houmon/pkg/caldate"
)

// predicate decides whether a visit qualifies. The returned map is merged
// into AppliedBonus.Details so reviewers can see why a bonus applied.
type predicate func(ec *EvaluationContext, p conditionParams) (bool, map[string]interface{})

const (
	defaultLongVisitMinutes = 90
	defaultInfantMaxAge     = 6
	defaultTerminalDays     = 14
)

var predicates = map[string]predicate{
	"always": func(*EvaluationContext, conditionParams) (bool, map[string]interface{}) {
		return true, nil
	},
	"expression": func(*EvaluationContext, conditionParams) (bool, map[string]interface{}) {
		return true, nil
	},
	"emergency_visit": func(ec *EvaluationContext, _ conditionParams) (bool, map[string]interface{}) {
		if ec.EmergencyVisitReason == "" {
			return false, nil
		}
		return true, map[string]interface{}{"reason": ec.EmergencyVisitReason}
	},
	"long_visit": func(ec *EvaluationContext, p conditionParams) (bool, map[string]interface{}) {
		threshold := p.MinMinutes
		if threshold <= 0 {
			threshold = defaultLongVisitMinutes
		}
		d := ec.DurationMinutes()
		return d >= threshold, map[string]interface{}{"duration_minutes": d, "min_minutes": threshold}
	},
	"multiple_visits": func(ec *EvaluationContext, p conditionParams) (bool, map[string]interface{}) {
		from := p.MinCount
		if from <= 0 {
			from = 2
		}
		ok := ec.DailyVisitCount >= from && (p.MaxCount <= 0 || ec.DailyVisitCount <= p.MaxCount)
		return ok, map[string]interface{}{"daily_visit_count": ec.DailyVisitCount}
	},
	"night_early":  hourPredicate([][2]int{{18, 22}, {6, 8}}),
	"late_night":   hourPredicate([][2]int{{22, 6}}),
	"infant": func(ec *EvaluationContext, p conditionParams) (bool, map[string]interface{}) {
		if ec.PatientAge == nil {
			return false, nil
		}
		limit := p.MaxAge
		if limit <= 0 {
			limit = defaultInfantMaxAge
		}
		return *ec.PatientAge < limit, map[string]interface{}{"patient_age": *ec.PatientAge}
	},
	"multiple_staff": func(ec *EvaluationContext, _ conditionParams) (bool, map[string]interface{}) {
		return ec.IsMultipleStaff, nil
	},
	"discharge_date": func(ec *EvaluationContext, _ conditionParams) (bool, map[string]interface{}) {
		if ec.IsDischargeDateVisit {
			return true, map[string]interface{}{"source": "record"}
		}
		if ec.LastDischargeDate != nil && caldate.SameDay(*ec.LastDischargeDate, ec.VisitDate) {
			return true, map[string]interface{}{"discharge_date": caldate.Format(*ec.LastDischargeDate)}
		}
		return false, nil
	},
	"initial_visit": func(ec *EvaluationContext, p conditionParams) (bool, map[string]interface{}) {
		if ec.IsFirstVisitOfPlan {
			return true, map[string]interface{}{"source": "record"}
		}
		if p.WindowDays > 0 && ec.LastPlanCreatedDate != nil {
			days := caldate.DaysBetween(*ec.LastPlanCreatedDate, ec.VisitDate)
			if days >= 0 && days <= p.WindowDays {
				return true, map[string]interface{}{"days_since_plan": days}
			}
		}
		return false, nil
	},
	"terminal_care": func(ec *EvaluationContext, p conditionParams) (bool, map[string]interface{}) {
		if !ec.IsTerminalCare || ec.DeathDate == nil {
			return false, nil
		}
		window := p.DaysAfterVisit
		if window <= 0 {
			window = defaultTerminalDays
		}
		days := caldate.DaysBetween(ec.VisitDate, *ec.DeathDate)
		return days >= 0 && days <= window, map[string]interface{}{"days_before_death": days}
	},
	"special_management": func(ec *EvaluationContext, p conditionParams) (bool, map[string]interface{}) {
		matched := intersect(ec.SpecialManagementTypes, p.Types)
		if len(matched) == 0 {
			return false, nil
		}
		return true, map[string]interface{}{"types": matched}
	},
	"facility_capability": func(ec *EvaluationContext, p conditionParams) (bool, map[string]interface{}) {
		var has bool
		switch p.Capability {
		case "24h_support":
			has = ec.Has24HourSupport
		case "emergency_support":
			has = ec.HasEmergencySupport
		case "burden_reduction":
			has = ec.HasBurdenReduction
		}
		return has, map[string]interface{}{"capability": p.Capability}
	},
	"specialist_management": func(ec *EvaluationContext, p conditionParams) (bool, map[string]interface{}) {
		matched := intersect(ec.NurseCertifications, p.Certifications)
		if len(matched) == 0 {
			return false, nil
		}
		return true, map[string]interface{}{"certifications": matched}
	},
}

// checkPredicateParams rejects params a predicate cannot work with.
func checkPredicateParams(name string, p conditionParams) error {
	if _, ok := predicates[name]; !ok {
		return fmt.Errorf("unknown condition_type %q", name)
	}
	if name == "facility_capability" {
		switch p.Capability {
		case "24h_support", "emergency_support", "burden_reduction":
		default:
			return fmt.Errorf("facility_capability needs capability 24h_support, emergency_support or burden_reduction")
		}
	}
	return nil
}

// hourPredicate matches the visit start hour against [from, to) ranges.
// Params may override the default ranges.
func hourPredicate(defaults [][2]int) predicate {
	return func(ec *EvaluationContext, p conditionParams) (bool, map[string]interface{}) {
		h := ec.StartHour()
		if h < 0 {
			return false, nil
		}
		ranges := defaults
		if len(p.Hours) > 0 {
			ranges = p.Hours
		}
		for _, r := range ranges {
			if inHourRange(h, r[0], r[1]) {
				return true, map[string]interface{}{"start_hour": h}
			}
		}
		return false, nil
	}
}

func inHourRange(h, from, to int) bool {
	if from <= to {
		return h >= from && h < to
	}
	return h >= from || h < to
}

// intersect returns values of have found in want. An empty want matches
// everything in have.
func intersect(have, want []string) []string {
	if len(want) == 0 {
		return have
	}
	set := make(map[string]bool, len(want))
	for _, w := range want {
		set[w] = true
	}
	var out []string
	for _, h := range have {
		if set[h] {
			out = append(out, h)
		}
	}
	return out
}
