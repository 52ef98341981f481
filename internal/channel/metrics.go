package channel

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	stateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fleetdash",
		Subsystem: "channel",
		Name:      "state_transitions_total",
		Help:      "Connection state transitions by target state",
	}, []string{"state"})

	reconnectAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fleetdash",
		Subsystem: "channel",
		Name:      "reconnect_attempts_total",
		Help:      "Dial attempts made while reconnecting",
	})

	inboundFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fleetdash",
		Subsystem: "channel",
		Name:      "inbound_frames_total",
		Help:      "Inbound frames by outcome",
	}, []string{"outcome"})

	outboundFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fleetdash",
		Subsystem: "channel",
		Name:      "outbound_frames_total",
		Help:      "Outbound emits by outcome",
	}, []string{"outcome"})

	handlerPanics = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fleetdash",
		Subsystem: "channel",
		Name:      "handler_panics_total",
		Help:      "Event handlers that panicked and were recovered",
	})
)
