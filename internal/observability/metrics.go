package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Relay collectors. They live on the default registry and are served by the
// /metrics route next to the HTTP collectors.
var (
	// RelayEvents counts handled webhook events by outcome
	// (delivered|skipped|failed|malformed|status).
	RelayEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_events_total",
			Help: "Webhook events handled by the relay, by outcome.",
		},
		[]string{"outcome"},
	)

	// DedupEntries gauges the number of ids tracked by the dedup guard.
	DedupEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_dedup_entries",
			Help: "Message ids currently tracked by the dedup window.",
		},
	)

	// CredentialsProvisioned counts credentials created for first-time users.
	CredentialsProvisioned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_credentials_provisioned_total",
			Help: "Bot-session credentials provisioned.",
		},
	)

	// TransportDuration observes gateway delivery latency by result.
	TransportDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_transport_duration_seconds",
			Help:    "Latency of bot transport deliveries in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"result"},
	)

	// OutboundMessages counts bot replies sent to WhatsApp by kind and result.
	OutboundMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_outbound_messages_total",
			Help: "Bot replies sent through the Cloud API.",
		},
		[]string{"kind", "result"},
	)
)

func init() {
	prometheus.MustRegister(RelayEvents, DedupEntries, CredentialsProvisioned, TransportDuration, OutboundMessages)
}
