package executor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "ctxrelay",
		Subsystem: "executor",
		Name:      "queue_depth",
		Help:      "Tasks waiting in the queue",
	}, []string{"pool"})

	activeWorkers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "ctxrelay",
		Subsystem: "executor",
		Name:      "workers",
		Help:      "Running workers",
	}, []string{"pool"})

	tasks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ctxrelay",
		Subsystem: "executor",
		Name:      "tasks_total",
		Help:      "Tasks by outcome",
	}, []string{"pool", "outcome"})
)

const (
	outcomeCompleted = "completed"
	outcomeFailed    = "failed"
	outcomePanicked  = "panicked"
	outcomeRejected  = "rejected"
	outcomeDropped   = "dropped"
)
