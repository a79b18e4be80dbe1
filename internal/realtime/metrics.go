package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quickchat_socket_reconnects_total",
		Help: "Socket reconnect attempts after a lost connection.",
	})

	metricEventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quickchat_socket_events_received_total",
		Help: "Inbound socket events by event name.",
	}, []string{"event"})

	metricDecodeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quickchat_event_decode_failures_total",
		Help: "Inbound events dropped because their payload failed to decode.",
	})

	metricDuplicatesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quickchat_messages_duplicates_dropped_total",
		Help: "Inbound messages discarded by the dedup ledger or id match.",
	})

	metricMessagesMerged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quickchat_messages_merged_total",
		Help: "Messages inserted into the canonical conversation list.",
	})

	metricTypingExpirations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quickchat_typing_expirations_total",
		Help: "Typing entries removed by timeout instead of a stop event.",
	})
)
