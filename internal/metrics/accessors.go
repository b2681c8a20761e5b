package metrics

import "github.com/prometheus/client_golang/prometheus"

// Channel metrics - exported for use by channel package
var (
	MessagesPublishedTotal *prometheus.CounterVec
	ClientsConnected       prometheus.Gauge
	ClientDisconnectsTotal *prometheus.CounterVec
	HistorySize            prometheus.Gauge
)

// API metrics - exported for use by api package
var (
	APICommandErrorsTotal       *prometheus.CounterVec
	APICommandDurationSummary   *prometheus.SummaryVec
	APICommandDurationHistogram *prometheus.HistogramVec
)

// Middleware metrics - exported for use by middleware package
var (
	HTTPRequestsTotal *prometheus.CounterVec
)
