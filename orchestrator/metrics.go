package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var stepTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "portal",
	Name:      "step_transitions_total",
	Help:      "Transaction step status changes by step kind and new status.",
}, []string{"kind", "status"})
