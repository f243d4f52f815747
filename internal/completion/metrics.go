package completion

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "overflowgpt_sessions_total",
		Help: "Finished completion sessions by outcome",
	}, []string{"outcome"})

	sessionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "overflowgpt_session_duration_seconds",
		Help:    "Completion session wall time by outcome",
		Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 80},
	}, []string{"outcome"})

	outputChunksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "overflowgpt_output_chunks_total",
		Help: "CHATGPT_OUTPUT increments forwarded to channels",
	})

	malformedEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "overflowgpt_malformed_events_total",
		Help: "Stream events dropped because their payload did not parse",
	})

	cleanupTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "overflowgpt_cleanup_total",
		Help: "Conversation hide requests by result",
	}, []string{"result"})
)
