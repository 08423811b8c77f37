package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Workflow metrics
	WorkflowsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scout_workflows_started_total",
			Help: "Total number of workflow runs started",
		},
	)

	WorkflowsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scout_workflows_completed_total",
			Help: "Total number of workflow runs reaching a terminal stage",
		},
		[]string{"status"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scout_stage_duration_seconds",
			Help:    "Time spent executing each workflow stage",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	// Interrupt metrics
	InterruptsPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scout_interrupts_pending",
			Help: "Number of threads currently parked at human review",
		},
	)

	ResumesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scout_resumes_total",
			Help: "Total number of resume requests by action",
		},
		[]string{"action"},
	)

	DuplicateResumes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scout_duplicate_resumes_total",
			Help: "Resume requests that found no unresolved review token",
		},
	)

	// Tool metrics
	ToolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scout_tool_calls_total",
			Help: "Total number of tool gateway calls",
		},
		[]string{"tool", "status"},
	)

	ToolCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scout_tool_call_duration_seconds",
			Help:    "Tool gateway call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tool"},
	)

	SearchesExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scout_searches_total",
			Help: "Planned query executions by outcome",
		},
		[]string{"status"},
	)

	// Preference gate metrics
	AutoDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scout_auto_decisions_total",
			Help: "Review decisions made automatically from episodic memory",
		},
		[]string{"decision"},
	)

	EpisodesRecorded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scout_episodes_recorded_total",
			Help: "Review episodes stored for preference learning",
		},
	)

	// Stream metrics
	FramesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scout_frames_published_total",
			Help: "Stream frames published by type",
		},
		[]string{"type"},
	)

	FramesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scout_frames_dropped_total",
			Help: "Frames dropped because a subscriber was too slow",
		},
	)

	StreamConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scout_stream_connections",
			Help: "Currently open SSE connections",
		},
	)

	// Thread store metrics
	ThreadsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scout_threads_created_total",
			Help: "Total number of threads created",
		},
	)

	ThreadCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scout_thread_cache_size",
			Help: "Current number of threads held in the in-memory store",
		},
	)

	ThreadCacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scout_thread_cache_evictions_total",
			Help: "Threads evicted from the in-memory store",
		},
	)
)

// RecordToolCall records one tool gateway call outcome.
func RecordToolCall(tool, status string, durationSeconds float64) {
	ToolCalls.WithLabelValues(tool, status).Inc()
	if durationSeconds > 0 {
		ToolCallDuration.WithLabelValues(tool).Observe(durationSeconds)
	}
}
