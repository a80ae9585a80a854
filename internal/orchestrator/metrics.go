package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	gateDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "designd",
		Subsystem: "orchestrator",
		Name:      "gate_decisions_total",
		Help:      "Gate decisions by phase and result (open, forced, blocked).",
	}, []string{"phase", "result"})

	roundsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "designd",
		Subsystem: "orchestrator",
		Name:      "clarification_rounds_total",
		Help:      "Clarification rounds run, by phase.",
	}, []string{"phase"})

	rollbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "designd",
		Subsystem: "orchestrator",
		Name:      "rollbacks_total",
		Help:      "Backward transitions triggered by systemic delegation failure.",
	})
)
