package module

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the engine's Prometheus collectors. Optional: every
// increment site tolerates a nil receiver.
type Metrics struct {
	BuildsTotal     prometheus.Counter
	BuildFailures   prometheus.Counter
	SavesTotal      *prometheus.CounterVec
	RollbacksTotal  prometheus.Counter
	MigrationsTotal prometheus.Counter
	ConfigVersion   prometheus.Gauge
}

// NewMetrics creates the collectors and registers them.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BuildsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bknd",
			Subsystem: "config",
			Name:      "builds_total",
			Help:      "Total number of completed module build passes",
		}),
		BuildFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bknd",
			Subsystem: "config",
			Name:      "build_failures_total",
			Help:      "Total number of failed module build passes",
		}),
		SavesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bknd",
			Subsystem: "config",
			Name:      "saves_total",
			Help:      "Total number of save operations by outcome",
		}, []string{"outcome"}),
		RollbacksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bknd",
			Subsystem: "config",
			Name:      "rollbacks_total",
			Help:      "Total number of rollbacks to the stable snapshot",
		}),
		MigrationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bknd",
			Subsystem: "config",
			Name:      "migrations_total",
			Help:      "Total number of applied migration steps",
		}),
		ConfigVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bknd",
			Subsystem: "config",
			Name:      "version",
			Help:      "Current configuration version",
		}),
	}
	reg.MustRegister(
		m.BuildsTotal,
		m.BuildFailures,
		m.SavesTotal,
		m.RollbacksTotal,
		m.MigrationsTotal,
		m.ConfigVersion,
	)
	return m
}

// save outcomes for the SavesTotal counter
const (
	saveOutcomeInsert   = "insert"
	saveOutcomeConflict = "conflict"
	saveOutcomeDiff     = "diff"
	saveOutcomeNoop     = "noop"
	saveOutcomeError    = "error"
)

func (m *Metrics) buildCompleted() {
	if m != nil {
		m.BuildsTotal.Inc()
	}
}

func (m *Metrics) buildFailed() {
	if m != nil {
		m.BuildFailures.Inc()
	}
}

func (m *Metrics) saved(outcome string) {
	if m != nil {
		m.SavesTotal.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) rolledBack() {
	if m != nil {
		m.RollbacksTotal.Inc()
	}
}

func (m *Metrics) migrated() {
	if m != nil {
		m.MigrationsTotal.Inc()
	}
}

func (m *Metrics) setVersion(v int) {
	if m != nil {
		m.ConfigVersion.Set(float64(v))
	}
}
