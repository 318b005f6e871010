// Package metrics provides Prometheus instrumentation for the community
// platform. It exposes gauges for live connection counts, counters for
// dispatched events and votes, and histograms for mutation latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of live WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "quartier_connections_total",
		Help: "Current number of live WebSocket connections",
	})

	// EventsDispatched counts domain events pushed to connected clients,
	// labeled by event type (post.created, poll.tally, ...).
	EventsDispatched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "quartier_events_dispatched_total",
		Help: "Total number of domain events dispatched to clients",
	}, []string{"type"})

	// VotesCast counts accepted poll votes.
	VotesCast = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "quartier_votes_cast_total",
		Help: "Total number of poll votes accepted",
	})

	// IdempotentReplays counts mutations short-circuited by the idempotency
	// guard.
	IdempotentReplays = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "quartier_idempotent_replays_total",
		Help: "Total number of mutations answered from the idempotency cache",
	})

	// MutationLatency records end-to-end mutation handling latency in
	// seconds, labeled by route name.
	MutationLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "quartier_mutation_latency_seconds",
		Help:    "Mutation handling latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"route"})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		EventsDispatched,
		VotesCast,
		IdempotentReplays,
		MutationLatency,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
