package bonus

import (
	"encoding/json"
	"fmt"
)

// conditionParams is the union of knobs the predefined predicates read.
// Zero values fall back to the predicate's default.
type conditionParams struct {
	OncePerMonth bool `json:"once_per_month"`

	MinMinutes     int      `json:"min_minutes"`
	MinCount       int      `json:"min_count"`
	MaxCount       int      `json:"max_count"`
	MaxAge         int      `json:"max_age"`
	WindowDays     int      `json:"window_days"`
	DaysAfterVisit int      `json:"days_after_visit"`
	Types          []string `json:"types"`
	Capability     string   `json:"capability"`
	Certifications []string `json:"certifications"`
	// Hour ranges as [from, to) pairs in local time; a range may wrap
	// midnight (e.g. [22, 6]).
	Hours [][2]int `json:"hours"`
}

func parseConditionParams(raw json.RawMessage) (conditionParams, error) {
	var p conditionParams
	if len(raw) == 0 || string(raw) == "null" {
		return p, nil
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("condition_params: %w", err)
	}
	for _, h := range p.Hours {
		if h[0] < 0 || h[0] > 24 || h[1] < 0 || h[1] > 24 {
			return p, fmt.Errorf("condition_params: hour range %v out of bounds", h)
		}
	}
	return p, nil
}

// tier is one step of a tiered points table. Max of nil is unbounded.
type tier struct {
	Min    int  `json:"min"`
	Max    *int `json:"max,omitempty"`
	Points int  `json:"points"`
}

type pointsConfig struct {
	// By names the context value tiers are matched against.
	By      string  `json:"by"`
	Tiers   []tier  `json:"tiers"`
	Percent float64 `json:"percent"`
}

var tierSelectors = map[string]bool{
	"daily_visit_count":   true,
	"monthly_visit_count": true,
	"duration_minutes":    true,
	"patient_age":         true,
}

func parsePointsConfig(raw json.RawMessage) (pointsConfig, error) {
	var c pointsConfig
	if len(raw) == 0 || string(raw) == "null" {
		return c, nil
	}
	if err := json.Unmarshal(raw, &c); err != nil {
		return c, fmt.Errorf("points_config: %w", err)
	}
	return c, nil
}

func (c pointsConfig) validateTiered() error {
	if len(c.Tiers) == 0 {
		return fmt.Errorf("points_config: tiered points need at least one tier")
	}
	if c.By == "" {
		c.By = "daily_visit_count"
	}
	if !tierSelectors[c.By] {
		return fmt.Errorf("points_config: unknown tier selector %q", c.By)
	}
	for _, t := range c.Tiers {
		if t.Max != nil && *t.Max < t.Min {
			return fmt.Errorf("points_config: tier max %d below min %d", *t.Max, t.Min)
		}
		if t.Points < 0 {
			return fmt.Errorf("points_config: negative tier points")
		}
	}
	return nil
}
