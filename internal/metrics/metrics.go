// Package metrics holds the prometheus collectors shared by the API,
// the push hub and the worker.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "altanian"

var Actions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "actions_total",
	Help:      "Game operations by action and result taxonomy",
}, []string{"action", "result"})

var TickElapsed = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: namespace,
	Name:      "tick_elapsed_seconds",
	Help:      "Elapsed game time reconciled per advance",
	Buckets:   []float64{0.5, 1, 2, 5, 15, 60, 300, 3600, 86400},
})

var CraftsCompleted = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "crafts_completed_total",
	Help:      "Crafting jobs finished by the tick engine",
})

var StorageErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "storage_errors_total",
	Help:      "Operations that failed because storage was unavailable",
}, []string{"action"})

var SocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "socket_connections",
	Help:      "Open push channel connections",
})

var Broadcasts = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "broadcasts_total",
	Help:      "game-state-update deliveries by outcome",
}, []string{"outcome"})

var RateLimited = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "rate_limited_total",
	Help:      "Requests rejected by the per-player limiter",
})

var SweepLedgers = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "sweep_ledgers_advanced",
	Help:      "Ledgers advanced by the last worker sweep",
})
