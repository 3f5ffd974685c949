package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "atlas"

type moduleMetrics struct {
	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec
	toolErrorsTotal       *prometheus.CounterVec

	pipelineRejections *prometheus.CounterVec
	laneRunning        *prometheus.GaugeVec
	laneQueued         *prometheus.GaugeVec

	taskTransitions *prometheus.CounterVec
	taskDuration    *prometheus.HistogramVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "tool_execution_total",
					Help:      "Total tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "tool_execution_duration_seconds",
					Help:      "Tool execution duration in seconds by tool.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			toolErrorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "tool_errors_total",
					Help:      "Total tool execution errors by tool.",
				},
				[]string{"tool"},
			),
			pipelineRejections: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "pipeline_rejections_total",
					Help:      "Calls the pipeline refused or abandoned, by tool and error kind.",
				},
				[]string{"tool", "kind"},
			),
			laneRunning: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "tool_calls_running",
					Help:      "Tool calls currently holding a concurrency slot.",
				},
				[]string{"tool"},
			),
			laneQueued: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "tool_calls_queued",
					Help:      "Tool calls waiting for a concurrency slot.",
				},
				[]string{"tool"},
			),
			taskTransitions: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "task_transitions_total",
					Help:      "Committed task state transitions by target status.",
				},
				[]string{"status"},
			),
			taskDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "task_duration_seconds",
					Help:      "Time from task creation to its terminal state, by status.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"status"},
			),
		}

		prometheus.MustRegister(
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.toolErrorsTotal,
			m.pipelineRejections,
			m.laneRunning,
			m.laneQueued,
			m.taskTransitions,
			m.taskDuration,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.toolExecutionTotal.WithLabelValues(tool, status).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
	if !success {
		m.toolErrorsTotal.WithLabelValues(tool).Inc()
	}
}

func RecordPipelineRejection(tool, kind string) {
	getMetrics().pipelineRejections.WithLabelValues(tool, kind).Inc()
}

func SetLaneState(tool string, running, queued int) {
	m := getMetrics()
	m.laneRunning.WithLabelValues(tool).Set(float64(running))
	m.laneQueued.WithLabelValues(tool).Set(float64(queued))
}

// RecordTaskTransition counts a transition; lifetime is observed only for terminal states.
func RecordTaskTransition(status string, lifetime time.Duration, terminal bool) {
	m := getMetrics()
	m.taskTransitions.WithLabelValues(status).Inc()
	if terminal {
		m.taskDuration.WithLabelValues(status).Observe(lifetime.Seconds())
	}
}
