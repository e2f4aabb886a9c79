// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"errors"

	"github.com/ManuGH/segsplit/internal/jobs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys.
const (
	JobIDKey          = "job.id"
	JobStatusKey      = "job.status"
	JobPreferenceKey  = "job.preference"
	JobSegmentSecsKey = "job.segment_seconds"
	JobArtifactsKey   = "job.artifacts"
	JobFallbackKey    = "job.fallback"

	AttemptStrategyKey = "attempt.strategy"
	AttemptIndexKey    = "attempt.index"
	AttemptOutcomeKey  = "attempt.outcome"

	JanitorDeletedKey   = "janitor.deleted"
	JanitorFreedKey     = "janitor.bytes_freed"
	JanitorRemainingKey = "janitor.bytes_remaining"

	ErrorTypeKey = "error.type"
)

// JobAttributes describes a submitted job.
func JobAttributes(id, preference string, segmentSeconds int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(JobIDKey, id),
		attribute.String(JobPreferenceKey, preference),
		attribute.Int(JobSegmentSecsKey, segmentSeconds),
	}
}

// AttemptAttributes describes one transcoder attempt.
func AttemptAttributes(strategy string, index int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttemptStrategyKey, strategy),
		attribute.Int(AttemptIndexKey, index),
	}
}

// SweepAttributes describes a janitor sweep result.
func SweepAttributes(deleted int, freed, remaining int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(JanitorDeletedKey, deleted),
		attribute.Int64(JanitorFreedKey, freed),
		attribute.Int64(JanitorRemainingKey, remaining),
	}
}

// ErrorType maps err onto the job error taxonomy.
func ErrorType(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, jobs.ErrCancelled):
		return "cancelled"
	case errors.Is(err, jobs.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, jobs.ErrProcessFailure):
		return "process_failure"
	case errors.Is(err, jobs.ErrStorageFailure):
		return "storage_failure"
	case errors.Is(err, jobs.ErrNotFound):
		return "not_found"
	case errors.Is(err, jobs.ErrAlreadyExists):
		return "already_exists"
	default:
		return "internal"
	}
}

// RecordError marks span as failed with err and its taxonomy class.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetAttributes(attribute.String(ErrorTypeKey, ErrorType(err)))
	span.SetStatus(codes.Error, err.Error())
}
