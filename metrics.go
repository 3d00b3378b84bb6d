package flux

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pushEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flux_client",
			Name:      "push_events_total",
			Help:      "Push events applied by sessions, by event name.",
		},
		[]string{"event"},
	)

	restFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flux_client",
			Name:      "rest_failures_total",
			Help:      "REST calls that failed or returned an unsuccessful response.",
		},
		[]string{"op"},
	)

	messagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flux_client",
			Name:      "messages_total",
			Help:      "Messages appended to conversation logs.",
		},
		[]string{"direction"},
	)

	reconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "flux_client",
			Name:      "socket_reconnects_total",
			Help:      "Reconnect attempts made by the realtime socket.",
		},
	)
)
