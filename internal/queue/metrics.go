package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CommandsEnqueued - команды, положенные в командный канал
var CommandsEnqueued = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradepilot",
		Subsystem: "queue",
		Name:      "commands_enqueued_total",
		Help:      "Total number of commands enqueued",
	},
	[]string{"type", "result"}, // result: ok, error
)

// CommandsProcessed - команды, обработанные консьюмером
var CommandsProcessed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradepilot",
		Subsystem: "queue",
		Name:      "commands_processed_total",
		Help:      "Total number of commands processed",
	},
	[]string{"type", "result"}, // result: ok, error, malformed
)
