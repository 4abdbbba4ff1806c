// ABOUTME: Prometheus metrics for the tool and task servers.
// ABOUTME: Request counters, rate-limit rejections, task transitions, durations.

package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the Prometheus instruments shared by both servers.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	ToolRequests    *prometheus.CounterVec
	RateLimited     prometheus.Counter
	TaskTransitions *prometheus.CounterVec
	TaskDuration    prometheus.Histogram
}

// NewMetrics registers quarry's instruments with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ToolRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quarry",
			Name:      "tool_requests_total",
			Help:      "Tool server JSON-RPC requests by method and status.",
		}, []string{"method", "status"}),
		RateLimited: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "quarry",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-tenant rate limiter.",
		}),
		TaskTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quarry",
			Name:      "task_transitions_total",
			Help:      "Task state transitions by resulting state.",
		}, []string{"state"}),
		TaskDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "quarry",
			Name:      "task_duration_seconds",
			Help:      "Wall time from claim to terminal state.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// CountToolRequest records a tool server request outcome, tolerating a nil receiver.
func (m *Metrics) CountToolRequest(method, status string) {
	if m == nil {
		return
	}
	m.ToolRequests.WithLabelValues(method, status).Inc()
}

// CountRateLimited records a rate-limit rejection, tolerating a nil receiver.
func (m *Metrics) CountRateLimited() {
	if m == nil {
		return
	}
	m.RateLimited.Inc()
}

// CountTransition records a task state transition, tolerating a nil receiver.
func (m *Metrics) CountTransition(state string) {
	if m == nil {
		return
	}
	m.TaskTransitions.WithLabelValues(state).Inc()
}

// ObserveTaskDuration records a task's execution time, tolerating a nil receiver.
func (m *Metrics) ObserveTaskDuration(seconds float64) {
	if m == nil {
		return
	}
	m.TaskDuration.Observe(seconds)
}
