package realtime

import "github.com/prometheus/client_golang/prometheus"

// Drop reasons recorded on realtime_events_dropped_total.
const (
	dropNoTarget     = "no_target"
	dropNoConnection = "no_connection"
	dropMalformed    = "malformed"
	dropUnknown      = "unknown_channel"
	dropSlowConsumer = "slow_consumer"
)

var (
	connectionsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "realtime_connections",
		Help: "Open realtime client streams",
	})
	deliveredTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_events_delivered_total",
		Help: "Events handed to client streams, by event",
	}, []string{"event"})
	droppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_events_dropped_total",
		Help: "Events or deliveries dropped, by reason",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(connectionsGauge, deliveredTotal, droppedTotal)
}
