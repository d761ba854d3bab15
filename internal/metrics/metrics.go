// Package metrics holds the Prometheus collectors of the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// TasksSubmitted counts accepted submissions, including retries
var TasksSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "docuprompt",
	Name:      "tasks_submitted_total",
	Help:      "Total accepted task submissions.",
}, []string{"kind"})

// TaskTransitions counts committed terminal transitions
var TaskTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "docuprompt",
	Name:      "task_transitions_total",
	Help:      "Terminal task transitions by status and error code.",
}, []string{"status", "code"})

// Renders counts finished render requests
var Renders = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "docuprompt",
	Name:      "renders_total",
	Help:      "Finished render requests by format and outcome.",
}, []string{"format", "outcome"})

// JobDuration tracks how long workers spend executing a job
var JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "docuprompt",
	Name:      "job_duration_seconds",
	Help:      "Job execution time in seconds.",
	Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
}, []string{"partition", "outcome"})

// ActiveSessions tracks connected websocket sessions
var ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "docuprompt",
	Name:      "active_sessions",
	Help:      "Number of connected websocket sessions.",
})

// DroppedEvents counts events that could not be delivered
var DroppedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "docuprompt",
	Name:      "dropped_events_total",
	Help:      "Events dropped because the session was gone or too slow.",
}, []string{"reason"})

// Outcome label values
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)
