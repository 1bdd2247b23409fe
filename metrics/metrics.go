package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	QueriesCompiled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ksqlq_queries_compiled_total",
		Help: "Total number of operator chains compiled, by result.",
	}, []string{"result"})

	SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ksqlq_sessions_started_total",
		Help: "Total number of query-stream requests sent.",
	})

	SessionsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ksqlq_sessions_finished_total",
		Help: "Total number of query-stream sessions that reached a terminal state.",
	}, []string{"state"})

	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ksqlq_sessions_active",
		Help: "Number of query-stream sessions currently open.",
	})

	SessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ksqlq_session_duration_seconds",
		Help:    "Duration of query-stream sessions from request to terminal state.",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
	})

	SessionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ksqlq_session_failures_total",
		Help: "Total number of failed sessions, by error kind.",
	}, []string{"kind"})

	RowsDecoded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ksqlq_rows_decoded_total",
		Help: "Total number of data rows decoded from query streams.",
	})

	RowsDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ksqlq_rows_delivered_total",
		Help: "Total number of rows written by sinks.",
	}, []string{"sink"})

	SinkErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ksqlq_sink_errors_total",
		Help: "Total number of sink write failures.",
	}, []string{"sink"})

	SinkWriteDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ksqlq_sink_write_duration_seconds",
		Help:    "Duration of a single sink write or publish.",
		Buckets: prometheus.DefBuckets,
	}, []string{"sink"})

	SinkRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ksqlq_sink_retries_total",
		Help: "Total number of retried sink writes.",
	}, []string{"sink"})

	RateLimitWaits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ksqlq_ratelimit_waits_total",
		Help: "Total number of rows delayed by the output rate limit.",
	}, []string{"sink"})

	RateLimitWaitDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ksqlq_ratelimit_wait_duration_seconds",
		Help:    "Time rows spent waiting for the output rate limit.",
		Buckets: prometheus.DefBuckets,
	}, []string{"sink"})

	Resubscribes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ksqlq_resubscribes_total",
		Help: "Total number of times a failed stream was reopened.",
	})
)
