package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PipelinesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pipeline_runs_active",
		Help: "Pipeline runs currently executing",
	})

	PipelinesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_runs_total",
		Help: "Pipeline runs by kind and overall degradation",
	}, []string{"kind", "degradation"})

	PipelineAborts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_aborts_total",
		Help: "Pipeline runs aborted before any stage ran",
	}, []string{"kind", "reason"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipeline_stage_duration_seconds",
		Help:    "Per-stage latency including fallback synthesis",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
	}, []string{"stage"})

	StageOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_stage_outcomes_total",
		Help: "Stage results by stage and status",
	}, []string{"stage", "status"})

	E2EDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipeline_e2e_duration_seconds",
		Help:    "End-to-end pipeline latency",
		Buckets: []float64{0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 20.0, 30.0},
	}, []string{"kind"})

	ProviderErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "provider_errors_total",
		Help: "Provider call failures by provider and error kind",
	}, []string{"provider", "kind"})

	ProviderBackoffs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "provider_backoff_skips_total",
		Help: "Calls short-circuited because a provider is in quota backoff",
	}, []string{"provider"})

	CredentialFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "credential_fetches_total",
		Help: "Credential resolutions that performed I/O, by source",
	}, []string{"provider", "source"})

	CredentialFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "credential_unavailable_total",
		Help: "Credential resolutions where both secret store and environment failed",
	}, []string{"provider"})

	SpeechSessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_sessions_total",
		Help: "Speech sessions by terminal state",
	}, []string{"state", "fallback"})

	SpeechSessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "speech_sessions_active",
		Help: "Live speech sessions currently open",
	})

	SpeechFragmentsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_fragments_dropped_total",
		Help: "Recognized fragments discarded by the session",
	}, []string{"reason"})
)
