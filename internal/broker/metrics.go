package broker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"fleetdash/internal/events"
)

var (
	connectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fleetdash",
		Subsystem: "broker",
		Name:      "connected_clients",
		Help:      "Websocket clients currently connected",
	})

	publishedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fleetdash",
		Subsystem: "broker",
		Name:      "published_events_total",
		Help:      "Events published by room",
	}, []string{"room"})

	inboundEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fleetdash",
		Subsystem: "broker",
		Name:      "inbound_events_total",
		Help:      "Client events received by name",
	}, []string{"event"})

	droppedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fleetdash",
		Subsystem: "broker",
		Name:      "dropped_frames_total",
		Help:      "Frames dropped because a client could not keep up",
	})

	throttledRefreshes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fleetdash",
		Subsystem: "broker",
		Name:      "throttled_refreshes_total",
		Help:      "refresh-data requests refused by the rate limiter",
	})
)

var clientEvents = map[string]struct{}{
	events.EventJoinRoom:            {},
	events.EventLeaveRoom:           {},
	events.EventClientConnected:     {},
	events.EventHeartbeat:           {},
	events.EventRefreshData:         {},
	events.EventUpdateVehicleStatus: {},
	events.EventGetLatestVehicles:   {},
}

// label values stay bounded whatever clients send
func roomLabel(room string) string {
	for _, d := range events.Domains() {
		if d.Room() == room {
			return room
		}
	}
	return "other"
}

func eventLabel(event string) string {
	if _, ok := clientEvents[event]; ok {
		return event
	}
	return "other"
}
