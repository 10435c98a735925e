package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asksql_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "asksql_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
	httpRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "asksql_http_requests_in_flight",
			Help: "Number of HTTP requests currently being served.",
		},
	)

	pipelineRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asksql_pipeline_runs_total",
			Help: "Total number of pipeline runs by outcome.",
		},
		[]string{"outcome"},
	)
	pipelineStageDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "asksql_pipeline_stage_duration_seconds",
			Help:    "Pipeline stage latency in seconds.",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"stage"},
	)
	llmCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asksql_llm_calls_total",
			Help: "Total number of LLM calls by stage and result.",
		},
		[]string{"stage", "result"},
	)
	llmRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asksql_llm_retries_total",
			Help: "Total number of LLM retries by stage.",
		},
		[]string{"stage"},
	)
	queryRowsReturned = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "asksql_query_rows_returned",
			Help:    "Number of rows returned by executed queries.",
			Buckets: []float64{0, 1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
		},
	)
	archiveFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "asksql_archive_failures_total",
			Help: "Total number of run archive writes that failed.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDurationSeconds,
		httpRequestsInFlight,
		pipelineRunsTotal,
		pipelineStageDurationSeconds,
		llmCallsTotal,
		llmRetriesTotal,
		queryRowsReturned,
		archiveFailuresTotal,
	)
}

// ObservePipelineRun records the terminal outcome of one run. outcome is
// "ok" or an error code.
func ObservePipelineRun(outcome string) {
	if outcome == "" {
		outcome = "ok"
	}
	pipelineRunsTotal.WithLabelValues(outcome).Inc()
}

func ObserveStage(stage string, elapsed time.Duration) {
	pipelineStageDurationSeconds.WithLabelValues(stage).Observe(elapsed.Seconds())
}

func ObserveLLMCall(stage string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	llmCallsTotal.WithLabelValues(stage, result).Inc()
}

func IncrementLLMRetry(stage string) {
	llmRetriesTotal.WithLabelValues(stage).Inc()
}

func ObserveRowsReturned(rows int) {
	if rows < 0 {
		rows = 0
	}
	queryRowsReturned.Observe(float64(rows))
}

func IncrementArchiveFailure() {
	archiveFailuresTotal.Inc()
}
