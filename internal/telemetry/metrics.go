package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics — счётчики движка и диспетчера webhooks.
//
// Registerer инжектируется конструктором: глобальный реестр не
// используется, в тестах каждый экземпляр получает собственный.
type Metrics struct {
	ExecutionsStarted  *prometheus.CounterVec
	ExecutionsFinished *prometheus.CounterVec
	StepsExecuted      *prometheus.CounterVec
	StepDuration       *prometheus.HistogramVec
	WebhookDeliveries  *prometheus.CounterVec
	WebhookDuration    prometheus.Histogram
}

// NewMetrics создаёт и регистрирует метрики в переданном Registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ExecutionsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cascade",
			Name:      "executions_started_total",
			Help:      "Started flow executions by mode (direct, durable).",
		}, []string{"mode"}),

		ExecutionsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cascade",
			Name:      "executions_finished_total",
			Help:      "Finished flow executions by terminal status.",
		}, []string{"status"}),

		StepsExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cascade",
			Name:      "steps_executed_total",
			Help:      "Executed steps by type and outcome (succeeded, failed, skipped).",
		}, []string{"type", "outcome"}),

		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cascade",
			Name:      "step_duration_seconds",
			Help:      "Step execution duration by type.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"type"}),

		WebhookDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cascade",
			Name:      "webhook_deliveries_total",
			Help:      "Webhook delivery outcomes (success, failure).",
		}, []string{"status"}),

		WebhookDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cascade",
			Name:      "webhook_delivery_duration_seconds",
			Help:      "Webhook delivery duration including retries.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
	}

	reg.MustRegister(
		m.ExecutionsStarted,
		m.ExecutionsFinished,
		m.StepsExecuted,
		m.StepDuration,
		m.WebhookDeliveries,
		m.WebhookDuration,
	)
	return m
}

// Handler возвращает HTTP-обработчик /metrics для переданного реестра.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
