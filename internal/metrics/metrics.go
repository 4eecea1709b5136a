package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Events accepted by the store.
	EventsLogged *prometheus.CounterVec

	// Persistence: batches written, failures and events shed on a full queue.
	SinkBatches  prometheus.Counter
	SinkFailures prometheus.Counter
	SinkDropped  prometheus.Counter
	QueueDepth   prometheus.Gauge

	// Active registries.
	ActiveTraces prometheus.Gauge
	ActiveTests  prometheus.Gauge

	// Background passes.
	Reaped          *prometheus.CounterVec
	RetentionPruned prometheus.Counter
}

// New registers collectors on reg. A nil registry gets a private one so
// tests can build any number of instances.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		EventsLogged: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chainaudit_events_logged_total",
			Help: "Audit events appended to the store.",
		}, []string{"type", "severity"}),

		SinkBatches: f.NewCounter(prometheus.CounterOpts{
			Name: "chainaudit_sink_batches_total",
			Help: "Batches written to the persistence sink.",
		}),

		SinkFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "chainaudit_sink_failures_total",
			Help: "Failed batch writes to the persistence sink.",
		}),

		SinkDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "chainaudit_sink_dropped_total",
			Help: "Events not persisted because the queue was full or closed.",
		}),

		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "chainaudit_sink_queue_depth",
			Help: "Events waiting in the persistence queue.",
		}),

		ActiveTraces: f.NewGauge(prometheus.GaugeOpts{
			Name: "chainaudit_active_traces",
			Help: "Transaction traces started and not yet finalized.",
		}),

		ActiveTests: f.NewGauge(prometheus.GaugeOpts{
			Name: "chainaudit_active_tests",
			Help: "Test executions started and not yet completed.",
		}),

		Reaped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chainaudit_reaped_total",
			Help: "Abandoned traces and tests finalized by the reaper.",
		}, []string{"kind"}),

		RetentionPruned: f.NewCounter(prometheus.CounterOpts{
			Name: "chainaudit_retention_pruned_total",
			Help: "Events dropped by the retention sweep.",
		}),
	}
}
