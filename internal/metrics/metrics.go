package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Request outcomes.
const (
	OutcomeContinue = "con"
	OutcomeEnd      = "end"
	OutcomeError    = "error"
)

var (
	// RequestsTotal counts processed USSD interactions by outcome.
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ussd_requests_total",
		Help: "Number of processed USSD interactions.",
	}, []string{"outcome"})

	// ResponseSeconds observes end-to-end interaction latency.
	ResponseSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ussd_response_seconds",
		Help:    "USSD interaction latency from request entry to persisted response.",
		Buckets: prometheus.DefBuckets,
	})

	// SessionsStarted counts created sessions.
	SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ussd_sessions_started_total",
		Help: "Number of USSD sessions created.",
	})

	// SessionsEnded counts terminated sessions by reason.
	SessionsEnded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ussd_sessions_ended_total",
		Help: "Number of USSD sessions terminated.",
	}, []string{"reason"})

	// LogEntriesDropped counts audit entries lost after retry and buffer
	// exhaustion.
	LogEntriesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ussd_log_entries_dropped_total",
		Help: "Number of interaction log entries dropped by the async logger.",
	})
)
