package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	TurnsStarted     prometheus.Counter
	TurnsCompleted   prometheus.Counter
	TurnsFailed      prometheus.Counter
	ToolCalls        prometheus.Counter
	ExecutorFailures prometheus.Counter
	StreamsResumed   prometheus.Counter
	TitleJobs        prometheus.Counter
}

var (
	once   sync.Once
	global *Metrics
)

func Global() *Metrics {
	once.Do(func() {
		global = &Metrics{
			TurnsStarted: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "morphly",
				Name:      "turns_started_total",
				Help:      "Total conversation turns started",
			}),
			TurnsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "morphly",
				Name:      "turns_completed_total",
				Help:      "Total conversation turns completed",
			}),
			TurnsFailed: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "morphly",
				Name:      "turns_failed_total",
				Help:      "Total conversation turns that ended with an error sentinel",
			}),
			ToolCalls: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "morphly",
				Name:      "tool_calls_total",
				Help:      "Total tool calls dispatched by the orchestrator",
			}),
			ExecutorFailures: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "morphly",
				Name:      "executor_failures_total",
				Help:      "Total remote code executor failures",
			}),
			StreamsResumed: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "morphly",
				Name:      "streams_resumed_total",
				Help:      "Total stream resume requests served from a live stream",
			}),
			TitleJobs: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "morphly",
				Name:      "title_jobs_total",
				Help:      "Total title generation jobs processed",
			}),
		}
		prometheus.MustRegister(
			global.TurnsStarted, global.TurnsCompleted, global.TurnsFailed,
			global.ToolCalls, global.ExecutorFailures, global.StreamsResumed,
			global.TitleJobs,
		)
	})
	return global
}
