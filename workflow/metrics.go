package workflow

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsOnce        sync.Once
	transitionsApplied *prometheus.CounterVec
	settlementOutcomes *prometheus.CounterVec
)

func init() {
	metricsOnce.Do(func() {
		transitionsApplied = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mesaops",
			Subsystem: "workflow",
			Name:      "transitions_applied_total",
			Help:      "Order status transitions committed, segmented by action and target status.",
		}, []string{"action", "to"})
		settlementOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mesaops",
			Subsystem: "workflow",
			Name:      "settlement_outcomes_total",
			Help:      "Session settlement steps committed, segmented by outcome.",
		}, []string{"outcome"})
		prometheus.MustRegister(transitionsApplied, settlementOutcomes)
	})
}
