package reconcile

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts reconciliation outcomes
type Metrics struct {
	reconciliations *prometheus.CounterVec
	migrations      *prometheus.CounterVec
	staleDropped    prometheus.Counter
}

// NewMetrics creates the engine collectors and registers them with reg.
// A nil reg uses the default registerer.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	reconciliations, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nutri_auth",
		Name:      "reconciliations_total",
		Help:      "Reconciliation passes by winning source and outcome.",
	}, []string{"source", "outcome"}))
	if err != nil {
		return nil, err
	}
	migrations, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nutri_auth",
		Name:      "account_migrations_total",
		Help:      "Commerce fallback migrations by result.",
	}, []string{"result"}))
	if err != nil {
		return nil, err
	}
	staleDropped, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "nutri_auth",
		Name:      "stale_results_dropped_total",
		Help:      "Results discarded because a newer reconciliation started.",
	}))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		reconciliations: reconciliations,
		migrations:      migrations,
		staleDropped:    staleDropped,
	}, nil
}

// register reuses an identical collector that is already registered
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		var zero T
		return zero, err
	}
	return c, nil
}

func (m *Metrics) reconciled(source, outcome string) {
	if m != nil {
		m.reconciliations.WithLabelValues(source, outcome).Inc()
	}
}

func (m *Metrics) migrated(result string) {
	if m != nil {
		m.migrations.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) stale() {
	if m != nil {
		m.staleDropped.Inc()
	}
}
