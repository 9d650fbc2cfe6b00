package scan

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricScansRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanbridge_scans_rejected_total",
			Help: "Scan candidates the validator dropped, by reason.",
		},
		[]string{"reason"},
	)
)
