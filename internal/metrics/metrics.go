package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "resume_crew"

var (
	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Duration of crew task execution in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"task"},
	)

	TaskResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Total number of crew tasks by result",
		},
		[]string{"task", "status"},
	)

	LLMRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Total number of LLM requests by provider, model and result",
		},
		[]string{"provider", "model", "status"},
	)

	ToolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Total number of agent tool calls by result",
		},
		[]string{"tool", "status"},
	)

	ToolCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_cache_hits_total",
			Help:      "Total number of tool results served from cache",
		},
		[]string{"tool"},
	)

	RunsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_active",
			Help:      "Number of pipeline runs currently executing",
		},
	)
)

// Status label values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Result maps an error to a status label value.
func Result(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusOK
}
