// Package metrics provides Prometheus metrics for the Lumen rendezvous
// service — counters, gauges, and histograms for connections, messages,
// policy enforcement, and matchmaking.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Connections ────────────────────────────────────────────────────────────

// ConnectionsTotal counts every accepted transport connection.
var ConnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "lumen",
	Name:      "connections_total",
	Help:      "Total accepted peer connections.",
})

// ConnectionsActive tracks currently connected peers.
var ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "lumen",
	Name:      "connections_active",
	Help:      "Number of currently connected peers.",
})

// ConnectionsRejected counts connections refused at admission.
var ConnectionsRejected = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "lumen",
	Name:      "connections_rejected_total",
	Help:      "Connections refused by the address rate limiter.",
})

// ─── Messages ───────────────────────────────────────────────────────────────

// MessagesReceived counts processed inbound messages by type.
var MessagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "lumen",
	Name:      "messages_received_total",
	Help:      "Inbound messages processed, by type.",
}, []string{"type"})

// MessagesRelayed counts offer/answer/candidate frames forwarded
// between trusted peers.
var MessagesRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "lumen",
	Name:      "messages_relayed_total",
	Help:      "Signaling frames relayed between trusted peers, by type.",
}, []string{"type"})

// ─── Policy enforcement ─────────────────────────────────────────────────────

// SecurityViolations counts policy violations by kind
// (rate_limit, validation, framing, unknown_type, untrusted_relay).
var SecurityViolations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "lumen",
	Name:      "security_violations_total",
	Help:      "Policy violations, by kind.",
}, []string{"kind"})

// AuthAttempts counts auth handshake completions by outcome.
var AuthAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "lumen",
	Name:      "auth_attempts_total",
	Help:      "Auth challenge responses, by outcome (success, failure).",
}, []string{"outcome"})

// ─── Matchmaking ────────────────────────────────────────────────────────────

// HelpersAvailable tracks the current helper set size.
var HelpersAvailable = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "lumen",
	Name:      "helpers_available",
	Help:      "Helpers currently announced and connected.",
})

// ClientsWaiting tracks the current client set size.
var ClientsWaiting = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "lumen",
	Name:      "clients_waiting",
	Help:      "Clients currently announced and connected.",
})

// MatchesMade counts successful helper/client pairings.
var MatchesMade = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "lumen",
	Name:      "matches_made_total",
	Help:      "Successful helper/client pairings.",
})

// MatchesFailed counts help requests with no trusted helper available.
var MatchesFailed = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "lumen",
	Name:      "matches_failed_total",
	Help:      "Help requests that found no trusted helper.",
})
