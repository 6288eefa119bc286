package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "tabletop_sync"
)

var (
	// ActionsRouted counts routed action requests by final outcome code
	ActionsRouted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_routed_total",
			Help:      "Action requests by outcome",
		},
		[]string{"outcome"}, // ok, or a protocol error code
	)

	// PendingRequests tracks in-flight action requests awaiting the authority
	PendingRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_requests",
			Help:      "Action requests waiting for an authority reply",
		},
	)

	// ActionRoundTrip measures request to result latency
	ActionRoundTrip = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "action_round_trip_seconds",
			Help:      "Latency from forward to authority result",
			Buckets:   []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	StateUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_updates_total",
			Help:      "State updates and snapshots published by authorities",
		},
		[]string{"kind", "outcome"}, // kind: full/delta/snapshot
	)

	ResyncRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resync_requests_total",
			Help:      "Resync requests forwarded to authorities",
		},
		[]string{"outcome"},
	)

	Heartbeats = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_total",
			Help:      "Heartbeat pings sent and pongs received",
		},
		[]string{"kind"}, // ping/pong/stale_pong
	)

	AuthorityLosses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authority_losses_total",
			Help:      "Authorities demoted",
		},
		[]string{"reason"}, // expired/disconnected
	)

	BoundAuthorities = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bound_authorities",
			Help:      "Sessions with a registered authority",
		},
	)

	Connections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Open websocket connections",
		},
		[]string{"role"},
	)

	FramesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_rejected_total",
			Help:      "Inbound websocket frames rejected before dispatch",
		},
		[]string{"reason"},
	)
)
