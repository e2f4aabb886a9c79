// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ManuGH/segsplit/internal/janitor"
	"github.com/ManuGH/segsplit/internal/jobs"
	xglog "github.com/ManuGH/segsplit/internal/log"
	"github.com/ManuGH/segsplit/internal/metrics"
	"github.com/ManuGH/segsplit/internal/orchestrator"
	"github.com/ManuGH/segsplit/internal/platform/paths"
	"github.com/ManuGH/segsplit/internal/transcode"
	"github.com/google/renameio/v2"
)

const maxFieldBytes = 1 << 10

// fileFields are the form names accepted for the uploaded file.
var fileFields = map[string]bool{"video": true, "file": true, "upload": true}

type submitResponse struct {
	OK    bool   `json:"ok"`
	JobID string `json:"jobId"`
}

// handleSplit streams a multipart upload to disk and submits a job. The
// request returns as soon as the job is queued.
func (s *Server) handleSplit(w http.ResponseWriter, r *http.Request) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/form-data" {
		writeJSON(w, http.StatusUnsupportedMediaType, errorBody{Error: "expected multipart/form-data"})
		return
	}
	if limit := s.cfg.Split.MaxUploadBytes; limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}

	id := paths.NewJobID(time.Now())
	logger := xglog.WithContext(r.Context(), s.logger).With().Str(xglog.FieldJobID, id).Logger()

	input, fields, err := s.receive(r, id)
	if err != nil {
		s.storage.Remove(janitor.ReasonFailedJob, input)
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			metrics.IncJobRejected("too_large")
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "upload too large"})
		case errors.Is(err, jobs.ErrInvalidInput):
			metrics.IncJobRejected("invalid_input")
			writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		default:
			logger.Warn().Err(err).Msg("upload failed")
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "upload failed"})
		}
		return
	}

	pref, err := preferenceFromForm(fields)
	if err != nil {
		s.storage.Remove(janitor.ReasonFailedJob, input)
		metrics.IncJobRejected("invalid_input")
		s.writeError(w, r, err)
		return
	}

	req := orchestrator.Request{
		JobID:          id,
		InputPath:      input,
		SegmentSeconds: secondsFromForm(fields),
		Preference:     pref,
	}
	if _, err := s.jobs.Submit(r.Context(), req); err != nil {
		s.storage.Remove(janitor.ReasonFailedJob, input)
		s.writeError(w, r, err)
		return
	}
	logger.Info().
		Str(xglog.FieldEvent, "job.uploaded").
		Str(xglog.FieldPath, input).
		Int("segment_seconds", req.SegmentSeconds).
		Str("preference", string(pref)).
		Msg("upload accepted")
	writeJSON(w, http.StatusAccepted, submitResponse{OK: true, JobID: id})
}

// receive writes the first file part atomically below the temp root and
// collects the small text fields. The returned input path is set whenever a
// file was started, so the caller can clean it up on error.
func (s *Server) receive(r *http.Request, id string) (input string, fields map[string]string, err error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", jobs.ErrInvalidInput, err)
	}
	fields = make(map[string]string)
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return input, nil, err
		}

		name := part.FormName()
		switch {
		case fileFields[name] && part.FileName() != "" && input == "":
			input = s.layout.InputPath(id, part.FileName())
			err = writeAtomic(input, s.layout.Root, part)
		default:
			var b []byte
			b, err = io.ReadAll(io.LimitReader(part, maxFieldBytes))
			if _, seen := fields[name]; !seen {
				fields[name] = strings.TrimSpace(string(b))
			}
		}
		_ = part.Close()
		if err != nil {
			return input, nil, err
		}
	}
	if input == "" {
		return "", nil, fmt.Errorf("%w: missing file", jobs.ErrInvalidInput)
	}
	return input, fields, nil
}

func writeAtomic(path, dir string, src io.Reader) error {
	pf, err := renameio.NewPendingFile(path, renameio.WithTempDir(dir), renameio.WithPermissions(0o600))
	if err != nil {
		return fmt.Errorf("create pending input: %w", err)
	}
	defer func() { _ = pf.Cleanup() }()

	if _, err := io.Copy(pf, src); err != nil {
		return err
	}
	if err := pf.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("commit input: %w", err)
	}
	return nil
}

// secondsFromForm reads "seconds" or "segmentLength". Missing, malformed
// and non-positive values select the default; the orchestrator clamps the
// upper bound.
func secondsFromForm(fields map[string]string) int {
	raw := fields["seconds"]
	if raw == "" {
		raw = fields["segmentLength"]
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0
	}
	return n
}

// preferenceFromForm resolves the strategy preference. An explicit "mode"
// wins, then "exactSegments", then "allowReencode". Without any of them
// the job may fall back to re-encoding.
func preferenceFromForm(fields map[string]string) (transcode.Preference, error) {
	if mode := fields["mode"]; mode != "" {
		return transcode.ParsePreference(mode)
	}
	if truthy(fields["exactSegments"]) {
		return transcode.PreferPrecise, nil
	}
	if v, ok := fields["allowReencode"]; ok && v != "" && !truthy(v) {
		return transcode.PreferFast, nil
	}
	return transcode.PreferFastWithFallback, nil
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
