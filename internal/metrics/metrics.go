package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry
	handler  http.Handler

	transitions *prometheus.CounterVec
	runs        *prometheus.CounterVec
	runDuration prometheus.Histogram
	selections  *prometheus.CounterVec
	users       *prometheus.CounterVec
	queued      prometheus.Gauge
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "seatsched_task_transitions_total",
		Help: "Timer task state transitions",
	}, []string{"to"})

	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "seatsched_task_runs_total",
		Help: "Completed timer task runs by outcome",
	}, []string{"outcome"})

	runDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "seatsched_task_run_duration_seconds",
		Help:    "Duration of timer task runs",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	})

	selections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "seatsched_slot_selections_total",
		Help: "Slot selections by phase and result",
	}, []string{"phase", "result"})

	users := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "seatsched_user_runs_total",
		Help: "Per-user runs by outcome",
	}, []string{"outcome"})

	queued := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "seatsched_tasks_in_queue",
		Help: "Timer tasks currently READY or RUNNING",
	})

	registry.MustRegister(transitions, runs, runDuration, selections, users, queued,
		collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &Metrics{
		registry:    registry,
		handler:     promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		transitions: transitions,
		runs:        runs,
		runDuration: runDuration,
		selections:  selections,
		users:       users,
		queued:      queued,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// The recorders below accept a nil receiver so components can run unmetered.

func (m *Metrics) Transition(to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(to).Inc()
}

func (m *Metrics) Run(success bool, seconds float64) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome(success)).Inc()
	m.runDuration.Observe(seconds)
}

func (m *Metrics) Selection(phase string, matched bool) {
	if m == nil {
		return
	}
	result := "match"
	if !matched {
		result = "no_match"
	}
	m.selections.WithLabelValues(phase, result).Inc()
}

func (m *Metrics) UserRun(success bool) {
	if m == nil {
		return
	}
	m.users.WithLabelValues(outcome(success)).Inc()
}

func (m *Metrics) SetInQueue(n int) {
	if m == nil {
		return
	}
	m.queued.Set(float64(n))
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
