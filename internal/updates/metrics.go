package updates

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the prometheus collectors of one Service.
type Metrics struct {
	ActiveConnections prometheus.Gauge
	MessagesSent      prometheus.Counter
	EventsPublished   prometheus.Counter
	Evictions         *prometheus.CounterVec
	SnapshotFailures  *prometheus.CounterVec
}

// NewMetrics registers the collectors with reg. A nil reg keeps them
// unregistered, which is what tests want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "moderator_updates_active_connections",
			Help: "Connections that have received their snapshots and get live updates.",
		}),
		MessagesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "moderator_updates_messages_sent_total",
			Help: "Frames written to client transports.",
		}),
		EventsPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "moderator_updates_events_published_total",
			Help: "Change events fanned out to local connections.",
		}),
		Evictions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "moderator_updates_connections_closed_total",
			Help: "Closed connections by close reason.",
		}, []string{"reason"}),
		SnapshotFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "moderator_updates_snapshot_failures_total",
			Help: "Snapshot builds that failed, by scope kind.",
		}, []string{"kind"}),
	}
}
