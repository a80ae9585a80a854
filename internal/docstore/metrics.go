package docstore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// writesTotal counts document writes by result.
	// Labels: result (success, conflict, error)
	writesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "designd",
			Subsystem: "docstore",
			Name:      "writes_total",
			Help:      "Total number of document write operations",
		},
		[]string{"result"},
	)

	// splitsTotal counts completed document splits.
	splitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "designd",
			Subsystem: "docstore",
			Name:      "splits_total",
			Help:      "Total number of documents split into children",
		},
	)
)
