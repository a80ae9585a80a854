package validation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// defectsTotal counts validation defects found.
// Labels: kind, severity
var defectsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "designd",
		Subsystem: "validation",
		Name:      "defects_total",
		Help:      "Total number of validation defects by kind and severity",
	},
	[]string{"kind", "severity"},
)
