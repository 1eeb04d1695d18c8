package provision

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts reconcile runs and failed steps.
type Metrics struct {
	Runs         *prometheus.CounterVec
	StepFailures *prometheus.CounterVec
}

// NewMetrics builds the collectors and registers them on reg when non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "profilekit_reconcile_runs_total",
			Help: "Reconcile runs by outcome.",
		}, []string{"outcome"}),
		StepFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "profilekit_reconcile_step_failures_total",
			Help: "Reconcile failures by the step that failed.",
		}, []string{"step"}),
	}
	if reg != nil {
		reg.MustRegister(m.Runs, m.StepFailures)
	}
	return m
}
