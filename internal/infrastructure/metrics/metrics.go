package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deepresearch_sessions_started_total",
			Help: "Total number of research sessions submitted",
		},
	)

	SessionsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_sessions_finished_total",
			Help: "Total number of research sessions by terminal stage",
		},
		[]string{"outcome"},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "deepresearch_active_sessions",
			Help: "Number of research sessions currently running",
		},
	)

	ResearchRounds = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deepresearch_research_rounds_total",
			Help: "Total number of research dispatch rounds",
		},
	)

	ProviderCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "deepresearch_provider_call_duration_seconds",
			Help: "Latency of outbound provider calls",
		},
		[]string{"op"},
	)

	CredentialFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deepresearch_credential_failures_total",
			Help: "Total number of credential failures reported to the pool",
		},
	)
)
