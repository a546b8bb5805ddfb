// Package metrics exposes the bridge prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	Inbound  = "inbound"
	Outbound = "outbound"

	Forwarded = "forwarded"
	Dropped   = "dropped"
	Buffered  = "buffered"
	Failed    = "failed"
)

var (
	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mcp_bridge_sessions_active",
			Help: "Number of registered bridge sessions",
		},
	)

	sessionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mcp_bridge_sessions_total",
			Help: "Total number of sessions created",
		},
	)

	messagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcp_bridge_messages_total",
			Help: "Messages handled by sessions",
		},
		[]string{"direction", "server", "outcome"},
	)

	renegotiationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcp_bridge_renegotiations_total",
			Help: "Client endpoint swaps by outcome",
		},
		[]string{"outcome"},
	)

	downstreamErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcp_bridge_downstream_errors_total",
			Help: "Synthesized downstream error responses by JSON-RPC code",
		},
		[]string{"code"},
	)
)

var registry = prometheus.NewRegistry()

func init() {
	Register(registry)
}

// Register registers the bridge collectors with r.
func Register(r prometheus.Registerer) {
	r.MustRegister(sessionsActive, sessionsTotal, messagesTotal, renegotiationsTotal, downstreamErrors)
}

// Handler serves the bridge registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// SessionAdded counts a newly registered session.
func SessionAdded() {
	sessionsActive.Inc()
	sessionsTotal.Inc()
}

// SessionRemoved decrements the active session gauge.
func SessionRemoved() { sessionsActive.Dec() }

// RecordMessage counts one message by direction and outcome.
func RecordMessage(direction, server, outcome string) {
	messagesTotal.WithLabelValues(direction, server, outcome).Inc()
}

// RecordRenegotiation counts a finished endpoint swap.
func RecordRenegotiation(success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	renegotiationsTotal.WithLabelValues(outcome).Inc()
}

// RecordDownstreamError counts a synthesized error response.
func RecordDownstreamError(code int) {
	downstreamErrors.WithLabelValues(strconv.Itoa(code)).Inc()
}
