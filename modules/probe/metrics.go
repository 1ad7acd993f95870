package probe

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricTitleChanges = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "streamtitle",
		Subsystem: "probe",
		Name:      "title_changes_total",
		Help:      "Number of times the now-playing title changed.",
	})

	metricLastSuccess = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "streamtitle",
		Subsystem: "probe",
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix time of the last successful title fetch.",
	})

	metricFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "streamtitle",
		Subsystem: "probe",
		Name:      "failures_total",
		Help:      "Failed title fetches, by reason.",
	}, []string{"reason"})
)
