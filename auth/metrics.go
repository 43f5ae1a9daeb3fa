package auth

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the authorization and permission cache collectors. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	Decisions   *prometheus.CounterVec
	CacheLookup *prometheus.CounterVec
	CacheLoads  *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg when reg is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authz_decisions_total",
				Help: "Authorization decisions by result",
			},
			[]string{"result"},
		),
		CacheLookup: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "permission_cache_lookups_total",
				Help: "Permission cache lookups by result (hit or miss)",
			},
			[]string{"result"},
		),
		CacheLoads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "permission_cache_loads_total",
				Help: "Permission set loads from storage by outcome",
			},
			[]string{"outcome"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.Decisions, m.CacheLookup, m.CacheLoads)
	}
	return m
}

func (m *Metrics) decision(result string) {
	if m != nil {
		m.Decisions.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) lookup(result string) {
	if m != nil {
		m.CacheLookup.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) load(outcome string) {
	if m != nil {
		m.CacheLoads.WithLabelValues(outcome).Inc()
	}
}
