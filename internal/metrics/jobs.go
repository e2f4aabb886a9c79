// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package metrics exposes the Prometheus collectors of the service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "segsplit_jobs_total",
		Help: "Finalized jobs by outcome",
	}, []string{"outcome"}) // outcome=done|failed|cancelled

	jobsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "segsplit_jobs_rejected_total",
		Help: "Job submissions rejected before start",
	}, []string{"reason"})

	jobsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "segsplit_jobs_active",
		Help: "Jobs currently being transcoded",
	})

	attemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "segsplit_attempts_total",
		Help: "Transcoder attempts by strategy and outcome",
	}, []string{"strategy", "outcome"}) // outcome=succeeded|empty|failed|cancelled

	attemptDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "segsplit_attempt_duration_seconds",
		Help:    "Wall time of transcoder attempts",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12), // 0.5s to ~17min
	}, []string{"strategy"})

	fallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "segsplit_fallbacks_total",
		Help: "Fallbacks from fast to precise by trigger",
	}, []string{"trigger"}) // trigger=empty|failed

	artifactsProduced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "segsplit_artifacts_produced_total",
		Help: "Segments produced by completed jobs",
	})

	registryJobs = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "segsplit_registry_jobs",
		Help: "Jobs tracked in the registry by status",
	}, []string{"status"})
)

func IncJob(outcome string)        { jobsTotal.WithLabelValues(outcome).Inc() }
func IncJobRejected(reason string) { jobsRejected.WithLabelValues(reason).Inc() }
func IncJobsActive()               { jobsActive.Inc() }
func DecJobsActive()               { jobsActive.Dec() }
func IncFallback(trigger string)   { fallbacksTotal.WithLabelValues(trigger).Inc() }
func AddArtifacts(n int)           { artifactsProduced.Add(float64(n)) }

// SetRegistryJobs publishes the number of registry records in status.
func SetRegistryJobs(status string, n int) {
	registryJobs.WithLabelValues(status).Set(float64(n))
}

// ObserveAttempt records the outcome and duration of one transcoder attempt.
func ObserveAttempt(strategy, outcome string, d time.Duration) {
	attemptsTotal.WithLabelValues(strategy, outcome).Inc()
	attemptDuration.WithLabelValues(strategy).Observe(d.Seconds())
}

// Collectors exported for tests.
var (
	JobsTotal      = jobsTotal
	AttemptsTotal  = attemptsTotal
	FallbacksTotal = fallbacksTotal
)
