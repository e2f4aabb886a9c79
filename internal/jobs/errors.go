// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package jobs

import "errors"

var (
	// ErrNotFound is returned for unknown or already evicted job ids.
	ErrNotFound = errors.New("job not found")

	// ErrAlreadyExists is returned when a job id is reused.
	ErrAlreadyExists = errors.New("job already exists")

	// ErrInvalidInput marks bad job parameters. It is never retried.
	ErrInvalidInput = errors.New("invalid input")

	// ErrProcessFailure marks a transcoder exit with non-zero status or
	// without any artifacts. It may be retried once with the precise strategy.
	ErrProcessFailure = errors.New("process failure")

	// ErrCancelled marks a caller-initiated abort. It is always terminal.
	ErrCancelled = errors.New("cancelled")

	// ErrStorageFailure marks an I/O error during cleanup. It is logged and
	// counted but never surfaced to callers.
	ErrStorageFailure = errors.New("storage failure")
)

// Retryable reports whether a failed attempt may be followed by a fallback.
func Retryable(err error) bool {
	return errors.Is(err, ErrProcessFailure) && !errors.Is(err, ErrCancelled)
}
