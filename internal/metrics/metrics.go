package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "driftsync_events_created_total",
		Help: "Total number of events appended to the local log.",
	})

	EventsSynced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "driftsync_events_synced_total",
		Help: "Total number of events confirmed durable by the remote replica.",
	})

	EventsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "driftsync_events_failed_total",
		Help: "Total number of per-event sync failures (one per failed attempt).",
	})

	SyncCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "driftsync_sync_cycles_total",
		Help: "Total number of sync cycles, labelled by outcome.",
	}, []string{"outcome"})

	ConflictsDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "driftsync_conflicts_total",
		Help: "Total number of conflicts reported by the remote, labelled by resolution.",
	}, []string{"resolution"})

	SyncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "driftsync_sync_cycle_duration_ms",
		Help:    "Wall-clock duration of sync cycles in milliseconds.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 10000},
	})

	PendingEvents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "driftsync_pending_events",
		Help: "Events currently awaiting sync.",
	})

	FailedEvents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "driftsync_failed_events",
		Help: "Events currently in the failed state.",
	})
)
