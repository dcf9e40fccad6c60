// Package wametrics exposes the Prometheus counters the session and
// pairing layers update as they run. The teacher monorepo wires
// client_golang the same ad-hoc way in several of its server components:
// a registry of named collectors owned by each Metrics value, constructed once and
// passed around by reference rather than relying on the global default
// registry, so tests can construct an isolated Metrics value.
package wametrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the full set of counters this module updates.
// Construct exactly one per process (or per test) and pass it to
// session.Client and pairing.Machine.
type Metrics struct {
	Registry *prometheus.Registry

	HandshakeAttempts prometheus.Counter
	HandshakeFailures prometheus.Counter
	Reconnects        prometheus.Counter
	NodesSent         prometheus.Counter
	NodesReceived     prometheus.Counter
	PairingAttempts   prometheus.Counter
	PairingFailures   prometheus.Counter
	MediaUploadErrors prometheus.Counter
}

// New constructs a fresh, isolated Metrics with its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		HandshakeAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wa", Subsystem: "noise", Name: "handshake_attempts_total",
			Help: "Total number of Noise handshakes attempted.",
		}),
		HandshakeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wa", Subsystem: "noise", Name: "handshake_failures_total",
			Help: "Total number of Noise handshakes that failed authentication.",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wa", Subsystem: "session", Name: "reconnects_total",
			Help: "Total number of session reconnects, recoverable or not.",
		}),
		NodesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wa", Subsystem: "session", Name: "nodes_sent_total",
			Help: "Total number of binary nodes written to the wire.",
		}),
		NodesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wa", Subsystem: "session", Name: "nodes_received_total",
			Help: "Total number of binary nodes decoded from the wire.",
		}),
		PairingAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wa", Subsystem: "pairing", Name: "attempts_total",
			Help: "Total number of device pairing attempts started.",
		}),
		PairingFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wa", Subsystem: "pairing", Name: "failures_total",
			Help: "Total number of pairing attempts that failed integrity checks.",
		}),
		MediaUploadErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wa", Subsystem: "media", Name: "upload_errors_total",
			Help: "Total number of failed media uploads.",
		}),
	}
	reg.MustRegister(
		m.HandshakeAttempts, m.HandshakeFailures, m.Reconnects,
		m.NodesSent, m.NodesReceived, m.PairingAttempts, m.PairingFailures,
		m.MediaUploadErrors,
	)
	return m
}
