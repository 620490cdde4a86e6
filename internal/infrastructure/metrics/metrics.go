package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics счётчики сервиса триажа
type Metrics struct {
	registry        *prometheus.Registry
	classifications *prometheus.CounterVec
	escalations     prometheus.Counter
	heatmapFailures *prometheus.CounterVec
	inference       *prometheus.HistogramVec
}

// New регистрирует коллекторы на отдельном реестре
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		classifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triage_classifications_total",
			Help: "Cascade classifications by outcome.",
		}, []string{"outcome"}),
		escalations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "triage_escalations_total",
			Help: "Classifications escalated to the specialized stage.",
		}),
		heatmapFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triage_heatmap_failures_total",
			Help: "Heatmap generations that degraded to a null image.",
		}, []string{"reason"}),
		inference: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "triage_inference_seconds",
			Help:    "Classifier inference latency by stage.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
	}

	m.registry.MustRegister(
		m.classifications,
		m.escalations,
		m.heatmapFailures,
		m.inference,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler отдаёт метрики для /metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry нужен тестам для чтения значений
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveClassification(outcome string) {
	if m == nil {
		return
	}
	m.classifications.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveEscalation() {
	if m == nil {
		return
	}
	m.escalations.Inc()
}

func (m *Metrics) ObserveHeatmapFailure(reason string) {
	if m == nil {
		return
	}
	m.heatmapFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveInference(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.inference.WithLabelValues(stage).Observe(d.Seconds())
}
