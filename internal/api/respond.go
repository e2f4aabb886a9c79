// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ManuGH/segsplit/internal/api/middleware"
	"github.com/ManuGH/segsplit/internal/jobs"
	xglog "github.com/ManuGH/segsplit/internal/log"
	"github.com/ManuGH/segsplit/internal/orchestrator"
)

type errorBody struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps the job error taxonomy onto HTTP.
func statusFor(err error) int {
	switch {
	case errors.Is(err, jobs.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, jobs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, jobs.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, orchestrator.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes err as a JSON error. Internal errors are logged and
// replaced by a generic message.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		traceID, _ := middleware.ExtractTraceContext(r)
		lg := xglog.WithContext(r.Context(), s.logger)
		lg.Error().
			Err(err).
			Str("trace_id", traceID).
			Str(xglog.FieldPath, r.URL.Path).
			Msg("request failed")
		msg = "internal error"
	}
	writeJSON(w, code, errorBody{Error: msg})
}
