package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	transitions        *prometheus.CounterVec
	extractionDuration *prometheus.HistogramVec
	notifications      *prometheus.CounterVec
	batchItems         *prometheus.CounterVec
}

// NewMetrics регистрирует метрики в reg; в тестах передается отдельный реестр
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "credential_verifier",
			Name:      "status_transitions_total",
			Help:      "Verification status transitions by source and target status.",
		}, []string{"from", "to"}),
		extractionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "credential_verifier",
			Name:      "extraction_duration_seconds",
			Help:      "Time spent extracting text from diploma documents.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"method"}),
		notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "credential_verifier",
			Name:      "notifications_total",
			Help:      "Notification emails by kind and outcome.",
		}, []string{"kind", "outcome"}),
		batchItems: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "credential_verifier",
			Name:      "batch_items_total",
			Help:      "Records handled by batch processing by outcome.",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) ObserveTransition(from, to string) {
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) ObserveExtraction(method string, d time.Duration) {
	m.extractionDuration.WithLabelValues(method).Observe(d.Seconds())
}

func (m *Metrics) ObserveNotification(kind string, sent bool) {
	outcome := "sent"
	if !sent {
		outcome = "failed"
	}
	m.notifications.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) ObserveBatchItem(outcome string) {
	m.batchItems.WithLabelValues(outcome).Inc()
}
