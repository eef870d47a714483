package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the booking engine counters. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	holdRequests  *prometheus.CounterVec
	confirmations *prometheus.CounterVec
	holdsSwept    prometheus.Counter
	reminders     *prometheus.CounterVec
	sideEffects   *prometheus.CounterVec
}

// New registers the counters on reg, or on the default registerer when reg
// is nil.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		holdRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Name:      "hold_requests_total",
			Help:      "Hold requests by result.",
		}, []string{"result"}),
		confirmations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Name:      "confirmations_total",
			Help:      "Confirmation attempts by result.",
		}, []string{"result"}),
		holdsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinic",
			Name:      "holds_swept_total",
			Help:      "Expired holds removed by the sweep.",
		}),
		reminders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Name:      "reminder_outcomes_total",
			Help:      "Reminder jobs reaching a terminal status.",
		}, []string{"status"}),
		sideEffects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Name:      "side_effects_total",
			Help:      "Outbox task executions by kind and result.",
		}, []string{"kind", "result"}),
	}

	reg.MustRegister(m.holdRequests, m.confirmations, m.holdsSwept, m.reminders, m.sideEffects)
	return m
}

func (m *Metrics) HoldRequest(result string) {
	if m == nil {
		return
	}
	m.holdRequests.WithLabelValues(result).Inc()
}

func (m *Metrics) Confirmation(result string) {
	if m == nil {
		return
	}
	m.confirmations.WithLabelValues(result).Inc()
}

func (m *Metrics) HoldsSwept(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.holdsSwept.Add(float64(n))
}

func (m *Metrics) ReminderOutcome(status string) {
	if m == nil {
		return
	}
	m.reminders.WithLabelValues(status).Inc()
}

func (m *Metrics) SideEffect(kind, result string) {
	if m == nil {
		return
	}
	m.sideEffects.WithLabelValues(kind, result).Inc()
}
