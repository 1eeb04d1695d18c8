package core

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the counters emitted by Service.
type Metrics struct {
	SignupDecisions *prometheus.CounterVec
	Logins          *prometheus.CounterVec
}

// NewMetrics builds the collectors and registers them on reg when non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SignupDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "profilekit_signup_gate_decisions_total",
			Help: "Signup gate decisions for new external identities.",
		}, []string{"intent", "decision"}),
		Logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "profilekit_logins_total",
			Help: "Sign-in attempts by method and result.",
		}, []string{"method", "result"}),
	}
	if reg != nil {
		reg.MustRegister(m.SignupDecisions, m.Logins)
	}
	return m
}

func (m *Metrics) observeDecision(intent AuthIntent, d SignupDecision) {
	if m == nil {
		return
	}
	m.SignupDecisions.WithLabelValues(intent.String(), d.String()).Inc()
}

func (m *Metrics) observeLogin(method, result string) {
	if m == nil {
		return
	}
	m.Logins.WithLabelValues(method, result).Inc()
}
