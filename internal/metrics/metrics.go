// Package metrics provides Prometheus metrics for the hub.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the hub.
type Metrics struct {
	NotificationsTotal *prometheus.CounterVec
	TransitionsTotal   *prometheus.CounterVec
	InboxSendsTotal    *prometheus.CounterVec
	WebhookEventsTotal *prometheus.CounterVec
	OutboxSweptTotal   *prometheus.CounterVec
	ProviderDuration   *prometheus.HistogramVec
	StoreSizeBytes     prometheus.Gauge

	registry *prometheus.Registry
}

// New creates and registers all metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hub_notifications_total",
				Help: "Customer notifications by channel and result.",
			},
			[]string{"channel", "result"},
		),
		TransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hub_step_transitions_total",
				Help: "Project step transitions by kind and result.",
			},
			[]string{"kind", "result"},
		),
		InboxSendsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hub_inbox_sends_total",
				Help: "Operator replies sent from the inbox by channel and result.",
			},
			[]string{"channel", "result"},
		),
		WebhookEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hub_webhook_events_total",
				Help: "SMS provider webhook events by kind.",
			},
			[]string{"kind"},
		),
		OutboxSweptTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hub_outbox_swept_total",
				Help: "Outbox entries redelivered by the sweeper by result.",
			},
			[]string{"result"},
		),
		ProviderDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hub_provider_request_duration_seconds",
				Help:    "Outbound provider API call duration.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider"},
		),
		StoreSizeBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hub_store_size_bytes",
			Help: "Size of the SQLite database file.",
		}),
		registry: reg,
	}

	reg.MustRegister(m.NotificationsTotal)
	reg.MustRegister(m.TransitionsTotal)
	reg.MustRegister(m.InboxSendsTotal)
	reg.MustRegister(m.WebhookEventsTotal)
	reg.MustRegister(m.OutboxSweptTotal)
	reg.MustRegister(m.ProviderDuration)
	reg.MustRegister(m.StoreSizeBytes)

	return m
}

// Registry exposes the private registry so HTTP middleware can share it.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordNotification counts one channel attempt of a step notification.
func (m *Metrics) RecordNotification(channel, result string) {
	if m == nil {
		return
	}
	m.NotificationsTotal.WithLabelValues(channel, result).Inc()
}

// RecordTransition counts a step transition.
func (m *Metrics) RecordTransition(kind, result string) {
	if m == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(kind, result).Inc()
}

// RecordInboxSend counts an inbox reply.
func (m *Metrics) RecordInboxSend(channel, result string) {
	if m == nil {
		return
	}
	m.InboxSendsTotal.WithLabelValues(channel, result).Inc()
}

// RecordWebhook counts a webhook event.
func (m *Metrics) RecordWebhook(kind string) {
	if m == nil {
		return
	}
	m.WebhookEventsTotal.WithLabelValues(kind).Inc()
}

// RecordSweep counts an outbox redelivery.
func (m *Metrics) RecordSweep(result string) {
	if m == nil {
		return
	}
	m.OutboxSweptTotal.WithLabelValues(result).Inc()
}

// ObserveProvider records the duration of a provider call.
func (m *Metrics) ObserveProvider(provider string, seconds float64) {
	if m == nil {
		return
	}
	m.ProviderDuration.WithLabelValues(provider).Observe(seconds)
}

// SetStoreSize records the current database size.
func (m *Metrics) SetStoreSize(bytes int64) {
	if m == nil {
		return
	}
	m.StoreSizeBytes.Set(float64(bytes))
}
