package ws

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_connections_active",
			Help: "Number of authenticated websocket connections",
		},
	)

	usersOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_users_online",
			Help: "Number of users with at least one open connection",
		},
	)

	roomsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_rooms_active",
			Help: "Number of conversation rooms with subscribers",
		},
	)

	eventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_events_total",
			Help: "Inbound realtime events by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	messagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_messages_sent_total",
			Help: "Messages persisted through the realtime channel",
		},
	)

	slowConsumers = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_slow_consumers_total",
			Help: "Connections dropped because their send buffer was full",
		},
	)
)
