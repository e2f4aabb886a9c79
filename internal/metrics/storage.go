// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	janitorDeletions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "segsplit_janitor_deletions_total",
		Help: "Paths removed by the storage janitor by reason",
	}, []string{"reason"}) // reason=ttl|quota|deferred|failed_job|input

	janitorBytesFreed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "segsplit_janitor_bytes_freed_total",
		Help: "Bytes reclaimed by the storage janitor",
	})

	janitorErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "segsplit_janitor_errors_total",
		Help: "Storage failures swallowed during cleanup",
	}, []string{"op"}) // op=remove|stat|scan

	janitorSweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "segsplit_janitor_sweep_duration_seconds",
		Help:    "Duration of one janitor sweep",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
	})

	storageBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "segsplit_storage_bytes",
		Help: "Bytes under the temp root after the last sweep",
	})

	janitorPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "segsplit_janitor_pending_deletions",
		Help: "Deferred deletions waiting for their TTL",
	})

	procTerminate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "segsplit_proc_terminate_total",
		Help: "Signals sent to transcoder process groups",
	}, []string{"signal", "result"})

	procWait = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "segsplit_proc_wait_total",
		Help: "Transcoder process exits observed during termination",
	}, []string{"outcome"})

	procStalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "segsplit_proc_stalls_total",
		Help: "Transcoder attempts aborted by the progress watchdog",
	}, []string{"strategy", "phase"}) // phase=start|progress
)

func IncJanitorDeletion(reason string)       { janitorDeletions.WithLabelValues(reason).Inc() }
func AddJanitorBytesFreed(n int64)           { janitorBytesFreed.Add(float64(n)) }
func IncStorageFailure(op string)            { janitorErrors.WithLabelValues(op).Inc() }
func ObserveSweep(d time.Duration)           { janitorSweepDuration.Observe(d.Seconds()) }
func SetStorageBytes(n int64)                { storageBytes.Set(float64(n)) }
func SetJanitorPending(n int)                { janitorPending.Set(float64(n)) }
func IncProcTerminate(signal, result string) { procTerminate.WithLabelValues(signal, result).Inc() }
func IncProcWait(outcome string)             { procWait.WithLabelValues(outcome).Inc() }
func IncProcStall(strategy, phase string)    { procStalls.WithLabelValues(strategy, phase).Inc() }

// JanitorDeletions is exported for tests.
var JanitorDeletions = janitorDeletions
