package delegation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	attemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "designd",
		Subsystem: "delegation",
		Name:      "attempts_total",
		Help:      "Delegation attempts by outcome.",
	}, []string{"outcome"})

	tasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "designd",
		Subsystem: "delegation",
		Name:      "tasks_total",
		Help:      "Tasks reaching a terminal state, by status.",
	}, []string{"status"})
)
