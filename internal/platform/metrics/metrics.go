// Package metrics holds the Prometheus collectors for the billing engine.
package metrics

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collectors groups the counters the domain packages increment. A nil
// *Collectors is valid and records nothing.
type Collectors struct {
	BonusEvaluations      *prometheus.CounterVec
	BonusApplied          *prometheus.CounterVec
	BonusDefinitionErrors *prometheus.CounterVec
	ReceiptsGenerated     *prometheus.CounterVec
	ReceiptTransitions    *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		BonusEvaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "houmon",
			Name:      "bonus_evaluations_total",
			Help:      "Visit contexts evaluated by the bonus engine.",
		}, []string{"insurance_type"}),
		BonusApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "houmon",
			Name:      "bonus_applied_total",
			Help:      "Bonuses applied to visits, by bonus code.",
		}, []string{"bonus_code"}),
		BonusDefinitionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "houmon",
			Name:      "bonus_definition_errors_total",
			Help:      "Malformed bonus definitions skipped during evaluation.",
		}, []string{"bonus_code"}),
		ReceiptsGenerated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "houmon",
			Name:      "receipts_generated_total",
			Help:      "Monthly receipts written by the aggregator, by outcome.",
		}, []string{"outcome"}),
		ReceiptTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "houmon",
			Name:      "receipt_transitions_total",
			Help:      "Receipt lifecycle transitions, by transition and result.",
		}, []string{"transition", "result"}),
	}
	if reg != nil {
		reg.MustRegister(c.BonusEvaluations, c.BonusApplied, c.BonusDefinitionErrors,
			c.ReceiptsGenerated, c.ReceiptTransitions)
	}
	return c
}

func (c *Collectors) ObserveEvaluation(insuranceType string) {
	if c == nil {
		return
	}
	c.BonusEvaluations.WithLabelValues(insuranceType).Inc()
}

func (c *Collectors) ObserveApplied(bonusCode string) {
	if c == nil {
		return
	}
	c.BonusApplied.WithLabelValues(bonusCode).Inc()
}

func (c *Collectors) ObserveDefinitionError(bonusCode string) {
	if c == nil {
		return
	}
	c.BonusDefinitionErrors.WithLabelValues(bonusCode).Inc()
}

func (c *Collectors) ObserveReceipt(outcome string) {
	if c == nil {
		return
	}
	c.ReceiptsGenerated.WithLabelValues(outcome).Inc()
}

func (c *Collectors) ObserveTransition(transition, result string) {
	if c == nil {
		return
	}
	c.ReceiptTransitions.WithLabelValues(transition, result).Inc()
}

// Handler exposes the registry at /metrics.
func Handler(g prometheus.Gatherer) echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
}
