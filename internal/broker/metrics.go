package broker

import "github.com/prometheus/client_golang/prometheus"

// Operation results recorded on broker_operations_total.
const (
	resultOK           = "ok"
	resultMiss         = "miss"
	resultError        = "error"
	resultDisconnected = "disconnected"
	resultRejected     = "rejected"
)

var opsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "broker_operations_total",
		Help: "Broker operations by operation and result",
	},
	[]string{"op", "result"},
)

func init() {
	prometheus.MustRegister(opsTotal)
}

func observe(op, result string) {
	opsTotal.WithLabelValues(op, result).Inc()
}
