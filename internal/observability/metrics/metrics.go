// Package metrics exposes the gateway's admission instruments through
// the prometheus registry served at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/fx"
)

// Module provides the metrics bound to the default registry.
var Module = fx.Provide(NewDefault)

// Outcome labels for admission decisions.
const (
	OutcomeAdmitted            = "admitted"
	OutcomeInvalidKey          = "invalid_key"
	OutcomeRateLimited         = "rate_limited"
	OutcomeInsufficientCredits = "insufficient_credits"
	OutcomeError               = "error"
)

// Metrics holds the gateway's application-level instruments.
type Metrics struct {
	admissionTotal    *prometheus.CounterVec
	usageRecorded     prometheus.Counter
	usageDroppedTotal *prometheus.CounterVec
}

// New registers the instruments on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		admissionTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_admission_total",
				Help: "Admission decisions by outcome",
			},
			[]string{"outcome"},
		),
		usageRecorded: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_usage_records_total",
				Help: "Usage records written",
			},
		),
		usageDroppedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_usage_dropped_total",
				Help: "Usage records dropped by reason",
			},
			[]string{"reason"},
		),
	}
}

// NewDefault registers the instruments on the default registry.
func NewDefault() *Metrics {
	return New(prometheus.DefaultRegisterer)
}

func (m *Metrics) RecordAdmission(outcome string) {
	if m == nil {
		return
	}
	m.admissionTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordUsageWritten() {
	if m == nil {
		return
	}
	m.usageRecorded.Inc()
}

func (m *Metrics) RecordUsageDropped(reason string) {
	if m == nil {
		return
	}
	m.usageDroppedTotal.WithLabelValues(reason).Inc()
}
