package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var recordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "fleetdash",
	Subsystem: "ingest",
	Name:      "records_total",
	Help:      "Change records consumed by outcome",
}, []string{"outcome"})
