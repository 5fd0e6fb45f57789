// Package metrics provides Prometheus instrumentation for the Veil chat
// application. It exposes gauges for connection and room counts, counters for
// matchmaking outcomes and message throughput, and a histogram for queue wait
// time.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "veil_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// MatchesTotal counts formed sessions, labeled by mode: "criteria" or "tag".
	MatchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "veil_matches_total",
		Help: "Total number of sessions formed",
	}, []string{"mode"}) // mode = "criteria", "tag"

	// MatchWaitSeconds records how long the matched candidate waited in queue.
	MatchWaitSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "veil_match_wait_seconds",
		Help:    "Time a matched participant spent waiting in queue",
		Buckets: []float64{1, 2, 5, 10, 30, 60, 120, 300, 600},
	})

	// GhostEntriesDropped counts queue entries discarded because the owning
	// connection was no longer live.
	GhostEntriesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "veil_ghost_entries_dropped_total",
		Help: "Queue entries discarded because the connection was gone",
	})

	// IgnoresTotal counts recorded ignore relations.
	IgnoresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "veil_ignores_total",
		Help: "Total number of ignore relations recorded",
	})

	// ActiveRooms tracks the current number of active chat sessions.
	ActiveRooms = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "veil_active_rooms",
		Help: "Current number of active chat sessions",
	})

	// MessagesRelayed counts chat messages relayed between participants,
	// labeled by kind: "text" or "image".
	MessagesRelayed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "veil_messages_relayed_total",
		Help: "Total number of chat messages relayed",
	}, []string{"kind"}) // kind = "text", "image"

	// QueueDepth tracks the number of waiting entries per queue key. Updated
	// on enqueue, so it trails removals until the next join touches the key.
	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "veil_queue_depth",
		Help: "Number of waiting entries per matchmaking queue",
	}, []string{"queue"})

	// MessagesRejected counts messages rejected before relay, labeled by
	// reason: "invalid", "no_room", "rate_limited".
	MessagesRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "veil_messages_rejected_total",
		Help: "Total number of chat messages rejected before relay",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		MatchesTotal,
		MatchWaitSeconds,
		GhostEntriesDropped,
		IgnoresTotal,
		ActiveRooms,
		QueueDepth,
		MessagesRelayed,
		MessagesRejected,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
