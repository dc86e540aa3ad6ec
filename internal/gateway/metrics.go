package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "matchat_gateway_sessions_active",
		Help: "Currently open websocket sessions.",
	})
	eventsHandled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchat_gateway_events_total",
		Help: "Client events handled, by type.",
	}, []string{"type"})
	eventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "matchat_gateway_events_dropped_total",
		Help: "Outbound events dropped because a session buffer was full.",
	})
	malformedEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "matchat_gateway_events_malformed_total",
		Help: "Inbound frames discarded as malformed.",
	})
)
