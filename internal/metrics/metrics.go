package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const defaultMetricsNamespace = "evbridge"

// Config contains metrics configuration.
type Config struct {
	// Namespace is the prometheus namespace for all metrics. If empty, defaults to "evbridge".
	Namespace string
	// ConstLabels are labels that will be added to all metrics as constant labels.
	ConstLabels map[string]string
	// Registerer is the prometheus registerer to use. If nil, prometheus.DefaultRegisterer is used.
	Registerer prometheus.Registerer
}

// Registry holds all evbridge metrics.
type Registry struct {
	config Config

	// Channel metrics
	messagesPublishedTotal *prometheus.CounterVec
	clientsConnected       prometheus.Gauge
	clientDisconnectsTotal *prometheus.CounterVec
	historySize            prometheus.Gauge

	// API metrics
	apiCommandErrorsTotal       *prometheus.CounterVec
	apiCommandDurationSummary   *prometheus.SummaryVec
	apiCommandDurationHistogram *prometheus.HistogramVec

	// Middleware metrics
	httpRequestsTotal *prometheus.CounterVec
}

func init() {
	// Unregistered collectors, so helpers are usable before Init is called.
	m := buildRegistry(Config{})
	m.export()
}

// Init initializes the metrics registry with the provided configuration.
// It creates all metrics and registers them with the provided registerer.
// If registerer is nil, prometheus.DefaultRegisterer is used.
// Returns an error if metric registration fails.
func Init(cfg Config) error {
	reg, err := newRegistry(cfg)
	if err != nil {
		return err
	}
	reg.export()
	return nil
}

func (m *Registry) export() {
	MessagesPublishedTotal = m.messagesPublishedTotal
	ClientsConnected = m.clientsConnected
	ClientDisconnectsTotal = m.clientDisconnectsTotal
	HistorySize = m.historySize

	APICommandErrorsTotal = m.apiCommandErrorsTotal
	APICommandDurationSummary = m.apiCommandDurationSummary
	APICommandDurationHistogram = m.apiCommandDurationHistogram

	HTTPRequestsTotal = m.httpRequestsTotal
}

func buildRegistry(cfg Config) *Registry {
	metricsNamespace := cfg.Namespace
	if metricsNamespace == "" {
		metricsNamespace = defaultMetricsNamespace
	}

	constLabels := prometheus.Labels(cfg.ConstLabels)

	m := &Registry{
		config: cfg,
	}

	// Channel metrics
	m.messagesPublishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   metricsNamespace,
		Subsystem:   "channel",
		Name:        "messages_published_total",
		Help:        "Number of messages published to channel.",
		ConstLabels: constLabels,
	}, []string{"type"})

	m.clientsConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   metricsNamespace,
		Subsystem:   "channel",
		Name:        "clients_connected",
		Help:        "Number of connected stream clients.",
		ConstLabels: constLabels,
	})

	m.clientDisconnectsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   metricsNamespace,
		Subsystem:   "channel",
		Name:        "client_disconnects_total",
		Help:        "Number of client disconnects by reason.",
		ConstLabels: constLabels,
	}, []string{"reason"})

	m.historySize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   metricsNamespace,
		Subsystem:   "channel",
		Name:        "history_size",
		Help:        "Number of messages retained in channel history.",
		ConstLabels: constLabels,
	})

	// API metrics
	m.apiCommandErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   metricsNamespace,
		Subsystem:   "api",
		Name:        "command_errors_total",
		Help:        "Total errors in API commands.",
		ConstLabels: constLabels,
	}, []string{"method", "error"})

	m.apiCommandDurationSummary = prometheus.NewSummaryVec(prometheus.SummaryOpts{
		Namespace:   metricsNamespace,
		Subsystem:   "api",
		Name:        "command_duration_seconds",
		Objectives:  map[float64]float64{0.5: 0.05, 0.99: 0.001, 0.999: 0.0001},
		Help:        "Duration of API per command.",
		ConstLabels: constLabels,
	}, []string{"method"})

	m.apiCommandDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   metricsNamespace,
		Subsystem:   "api",
		Buckets:     prometheus.DefBuckets,
		Name:        "command_duration_seconds_histogram",
		Help:        "Histogram of duration of API per command.",
		ConstLabels: constLabels,
	}, []string{"method"})

	// Middleware metrics
	m.httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Subsystem:   "node",
			Name:        "incoming_http_requests_total",
			Help:        "Number of incoming HTTP requests",
			ConstLabels: constLabels,
		},
		[]string{"path", "method", "status"},
	)
	return m
}

func newRegistry(cfg Config) (*Registry, error) {
	registerer := cfg.Registerer
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := buildRegistry(cfg)

	// Register all metrics
	var alreadyRegistered prometheus.AlreadyRegisteredError

	collectors := []prometheus.Collector{
		m.messagesPublishedTotal,
		m.clientsConnected,
		m.clientDisconnectsTotal,
		m.historySize,
		m.apiCommandErrorsTotal,
		m.apiCommandDurationSummary,
		m.apiCommandDurationHistogram,
		m.httpRequestsTotal,
	}

	for _, collector := range collectors {
		err := registerer.Register(collector)
		if err != nil {
			// Ignore if already registered (allows re-initialization in tests)
			if !errors.As(err, &alreadyRegistered) {
				return nil, err
			}
		}
	}

	return m, nil
}
