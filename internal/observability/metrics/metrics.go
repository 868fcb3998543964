// Package metrics exposes Prometheus instrumentation for the webhook, the
// dialog engine, and bookings.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the assistant's counters and histograms. A nil *Metrics is
// a no-op, so instrumentation call sites never have to nil-check.
type Metrics struct {
	inboundTotal   *prometheus.CounterVec
	outboundTotal  *prometheus.CounterVec
	webhookLatency *prometheus.HistogramVec
	turnLatency    prometheus.Histogram
	intentTotal    *prometheus.CounterVec
	bookingsTotal  *prometheus.CounterVec
	llmCallsTotal  *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "citabot",
			Subsystem: "messaging",
			Name:      "inbound_webhook_total",
			Help:      "Inbound WhatsApp webhooks by outcome",
		}, []string{"status"}),
		outboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "citabot",
			Subsystem: "messaging",
			Name:      "outbound_total",
			Help:      "Outbound WhatsApp sends by outcome",
		}, []string{"status"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "citabot",
			Subsystem: "messaging",
			Name:      "webhook_latency_seconds",
			Help:      "End-to-end webhook handling latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),
		turnLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "citabot",
			Subsystem: "dialog",
			Name:      "turn_latency_seconds",
			Help:      "Dialog engine turn processing latency",
			Buckets:   prometheus.DefBuckets,
		}),
		intentTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "citabot",
			Subsystem: "dialog",
			Name:      "intent_total",
			Help:      "Classified intents per turn",
		}, []string{"intent"}),
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "citabot",
			Subsystem: "appointments",
			Name:      "total",
			Help:      "Appointments booked and cancelled",
		}, []string{"action"}),
		llmCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "citabot",
			Subsystem: "llm",
			Name:      "calls_total",
			Help:      "Model calls by provider and outcome",
		}, []string{"provider", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.inboundTotal, m.outboundTotal, m.webhookLatency,
		m.turnLatency, m.intentTotal, m.bookingsTotal, m.llmCallsTotal,
	)
	return m
}

func (m *Metrics) ObserveInbound(status string, seconds float64) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(status).Inc()
	m.webhookLatency.WithLabelValues(status).Observe(seconds)
}

func (m *Metrics) ObserveOutbound(status string) {
	if m == nil {
		return
	}
	m.outboundTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveTurn(seconds float64) {
	if m == nil {
		return
	}
	m.turnLatency.Observe(seconds)
}

func (m *Metrics) ObserveIntent(intent string) {
	if m == nil {
		return
	}
	m.intentTotal.WithLabelValues(intent).Inc()
}

func (m *Metrics) ObserveBooking(action string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(action).Inc()
}

func (m *Metrics) ObserveLLMCall(provider, status string) {
	if m == nil {
		return
	}
	m.llmCallsTotal.WithLabelValues(provider, status).Inc()
}
