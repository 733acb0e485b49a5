// Package metrics exposes application-level prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics carries the counters incremented on billing hot paths. A nil
// *Metrics is safe to call, so services can treat it as optional.
type Metrics struct {
	usageTracked      *prometheus.CounterVec
	quotaRejections   *prometheus.CounterVec
	invoicesGenerated prometheus.Counter
	costCalculations  prometheus.Counter
}

// New registers the metering instruments on the given registry.
func New(reg *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{
		usageTracked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "metering_usage_events_total",
			Help: "Usage events tracked, labelled by metric.",
		}, []string{"metric"}),
		quotaRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "metering_quota_rejections_total",
			Help: "Usage events that exceeded a quota, labelled by metric.",
		}, []string{"metric"}),
		invoicesGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "metering_invoices_generated_total",
			Help: "Invoices generated from usage.",
		}),
		costCalculations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "metering_cost_calculations_total",
			Help: "Cost calculations served, cached or not.",
		}),
	}

	collectors := []prometheus.Collector{
		m.usageTracked,
		m.quotaRejections,
		m.invoicesGenerated,
		m.costCalculations,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) UsageTracked(metric string) {
	if m == nil {
		return
	}
	m.usageTracked.WithLabelValues(metric).Inc()
}

func (m *Metrics) QuotaRejected(metric string) {
	if m == nil {
		return
	}
	m.quotaRejections.WithLabelValues(metric).Inc()
}

func (m *Metrics) InvoiceGenerated() {
	if m == nil {
		return
	}
	m.invoicesGenerated.Inc()
}

func (m *Metrics) CostCalculated() {
	if m == nil {
		return
	}
	m.costCalculations.Inc()
}
