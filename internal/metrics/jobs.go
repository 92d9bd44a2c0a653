package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DispatchesTotal counts dispatch attempts by backend and result.
	DispatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "job_dispatches_total",
		Help: "Dispatched tasks by backend type and submit result",
	}, []string{"backend", "result"})

	// SchedulerTicks counts completed scheduler poll loops.
	SchedulerTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_ticks_total",
		Help: "Completed scheduler poll loops",
	})

	// SchedulerFirings counts schedule occurrences won and dispatched.
	SchedulerFirings = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_firings_total",
		Help: "Schedule occurrences fired by this instance",
	})

	// RunningTasks tracks tasks currently executing in this process.
	RunningTasks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "worker_running_tasks",
		Help: "Tasks currently executing in this process",
	})

	// TaskOutcomes counts finished executions by outcome.
	TaskOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "worker_task_outcomes_total",
		Help: "Finished task executions by outcome",
	}, []string{"outcome"})
)
