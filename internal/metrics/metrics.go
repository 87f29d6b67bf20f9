package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/accident-check/internal/detection"
)

// Error kinds recorded by ObserveError.
const (
	KindClassification      = "classification"
	KindInvalidDistribution = "invalid_distribution"
	KindUnreadableImage     = "unreadable_image"
	KindClassifierTimeout   = "timeout"
)

// Metrics holds the detection collectors on a private registry.
type Metrics struct {
	registry    *prometheus.Registry
	predictions *prometheus.CounterVec
	accidents   prometheus.Counter
	errors      *prometheus.CounterVec
	latency     prometheus.Histogram
}

// New registers the detection collectors. historySize, when non-nil, backs
// the history_size gauge.
func New(historySize func() int) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accident_predictions_total",
			Help: "Decisions produced, by predicted class",
		}, []string{"class"}),
		accidents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "accident_detections_total",
			Help: "Decisions flagged as accidents",
		}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accident_classification_errors_total",
			Help: "Failed detection requests, by kind",
		}, []string{"kind"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "accident_classification_latency_seconds",
			Help:    "Time spent in the classifier backend",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
	}

	m.registry.MustRegister(m.predictions, m.accidents, m.errors, m.latency)
	if historySize != nil {
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "accident_history_size",
				Help: "Decisions currently retained in history",
			},
			func() float64 { return float64(historySize()) },
		))
	}
	return m
}

// ObserveDecision records a successful decision.
func (m *Metrics) ObserveDecision(d detection.Decision) {
	if m == nil {
		return
	}
	m.predictions.WithLabelValues(string(d.PredictedClass)).Inc()
	if d.IsAccident {
		m.accidents.Inc()
	}
	m.latency.Observe(d.Latency.Seconds())
}

// ObserveError records a failed detection request.
func (m *Metrics) ObserveError(kind string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(kind).Inc()
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
