package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Poll metrics
	PollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowworker_polls_total",
			Help: "Total number of long polls issued, by outcome (task, empty, error)",
		},
		[]string{"role", "task_list", "result"},
	)

	PollDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flowworker_poll_duration_seconds",
			Help:    "Long poll round trip in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 70},
		},
		[]string{"role", "task_list"},
	)

	DecisionPages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowworker_decision_pages_total",
			Help: "Additional history pages fetched while assembling decision tasks",
		},
		[]string{"task_list"},
	)

	TransportRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowworker_transport_retries_total",
			Help: "Coordinator calls retried after a transport failure",
		},
		[]string{"role", "task_list"},
	)

	TasksDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowworker_tasks_dropped_total",
			Help: "Tasks abandoned because the coordinator rejected a call made for them",
		},
		[]string{"role", "task_list", "op"},
	)

	// Decision metrics
	DecisionsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowworker_decisions_total",
			Help: "Decisions reported to the coordinator, by decision type",
		},
		[]string{"workflow_type", "decision_type"},
	)

	EventsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowworker_events_skipped_total",
			Help: "History events not dispatched to a handler",
		},
		[]string{"event_type", "reason"},
	)

	// Task metrics
	HandlerFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowworker_handler_failures_total",
			Help: "Handler errors converted into failure decisions or failure reports",
		},
		[]string{"role", "type"},
	)

	TasksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowworker_tasks_processed_total",
			Help: "Tasks executed, by outcome",
		},
		[]string{"role", "type", "outcome"},
	)

	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flowworker_task_duration_seconds",
			Help:    "Time from task acquisition to report in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"role", "type"},
	)

	// Agent metrics
	AgentsRunning = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flowworker_agents_running",
			Help: "Number of agents currently inside their poll loop",
		},
		[]string{"role", "task_list"},
	)

	// Event sink metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowworker_lifecycle_events_total",
			Help: "Lifecycle events published to sinks",
		},
		[]string{"sink", "status"},
	)

	JournalWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowworker_journal_writes_total",
			Help: "Task outcome rows written to the journal",
		},
		[]string{"status"},
	)

	// gRPC metrics
	GRPCRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowworker_grpc_requests_total",
			Help: "Total number of coordinator gRPC requests",
		},
		[]string{"service", "method", "status"},
	)

	GRPCRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flowworker_grpc_request_duration_seconds",
			Help:    "Coordinator gRPC request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "method"},
	)
)

// RecordPoll records the outcome of one long poll
func RecordPoll(role, taskList, result string, durationSeconds float64) {
	PollsTotal.WithLabelValues(role, taskList, result).Inc()
	PollDuration.WithLabelValues(role, taskList).Observe(durationSeconds)
}

// RecordTaskMetrics records metrics for an executed task
func RecordTaskMetrics(role, taskType, outcome string, durationSeconds float64) {
	TasksProcessed.WithLabelValues(role, taskType, outcome).Inc()
	TaskDuration.WithLabelValues(role, taskType).Observe(durationSeconds)
}

// RecordGRPCMetrics records metrics for a gRPC request
func RecordGRPCMetrics(service, method, status string, durationSeconds float64) {
	GRPCRequestsTotal.WithLabelValues(service, method, status).Inc()
	GRPCRequestDuration.WithLabelValues(service, method).Observe(durationSeconds)
}
