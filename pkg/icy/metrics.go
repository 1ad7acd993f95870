package icy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "streamtitle"

var (
	metricFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "icy",
		Name:      "fetches_total",
		Help:      "Completed stream title fetches, by outcome.",
	}, []string{"outcome"})

	metricRedirects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "icy",
		Name:      "redirects_total",
		Help:      "Redirects followed while fetching stream titles.",
	})

	metricReceivedBytes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "icy",
		Name:      "received_bytes_total",
		Help:      "Bytes read from streams while looking for a title.",
	})

	metricFetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: "icy",
		Name:      "fetch_duration_seconds",
		Help:      "Time from opening a stream to its final outcome.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	})
)
