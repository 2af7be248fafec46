package guard

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Packet outcomes recorded in chatguard_packets_total
const (
	OutcomeDecoded      = "decoded"
	OutcomeNotAddressed = "not_addressed"
	OutcomeFailed       = "failed"
	OutcomeAccepted     = "accepted"
	OutcomeStale        = "stale"
	OutcomeLimited      = "limited"
	OutcomeSelf         = "self"
	OutcomeInvalid      = "invalid"
	OutcomeIgnored      = "ignored"
)

// Metrics are the engine's Prometheus collectors
type Metrics struct {
	Packets     *prometheus.CounterVec
	Encoded     prometheus.Counter
	Unknown     prometheus.Counter
	ParseErrors prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg when it is not nil
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Packets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatguard",
			Name:      "packets_total",
			Help:      "Inbound packets handled, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		Encoded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatguard",
			Name:      "messages_encoded_total",
			Help:      "Outbound messages sealed.",
		}),
		Unknown: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatguard",
			Name:      "unknown_recipient_total",
			Help:      "Sends refused because the recipient has no stored key.",
		}),
		ParseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatguard",
			Name:      "parse_errors_total",
			Help:      "Inbound text that could not be parsed as a packet.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Packets, m.Encoded, m.Unknown, m.ParseErrors)
	}
	return m
}

func (m *Metrics) packet(kind, outcome string) {
	m.Packets.WithLabelValues(kind, outcome).Inc()
}
