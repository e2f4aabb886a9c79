// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"net/http"
	"os"
	"time"

	"github.com/ManuGH/segsplit/internal/auth"
	"github.com/ManuGH/segsplit/internal/janitor"
	xglog "github.com/ManuGH/segsplit/internal/log"
)

// requireAdmin guards administrative routes. Without a configured token the
// routes stay open.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AdminToken != "" && !auth.AuthorizeRequest(r, s.cfg.AdminToken, true) {
			writeJSON(w, http.StatusForbidden, errorBody{Error: "forbidden"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

type cleanupResponse struct {
	OK bool `json:"ok"`
	janitor.Report
}

// handleCleanup runs a sweep and waits for its report. Concurrent calls
// share one sweep.
func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	rep, err := s.storage.SweepOnce(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	lg := xglog.WithContext(r.Context(), s.logger)
	lg.Info().
		Str(xglog.FieldEvent, "janitor.manual_sweep").
		Int("deleted", rep.DeletedCount).
		Int64(xglog.FieldBytesFreed, rep.BytesFreed).
		Msg("manual sweep finished")
	writeJSON(w, http.StatusOK, cleanupResponse{OK: true, Report: rep})
}

type whoami struct {
	Hostname string    `json:"hostname"`
	PID      int       `json:"pid"`
	Now      time.Time `json:"now"`
	Version  string    `json:"version"`
}

// handleWhoami identifies the instance behind a load balancer.
func (s *Server) handleWhoami(w http.ResponseWriter, _ *http.Request) {
	host, _ := os.Hostname()
	writeJSON(w, http.StatusOK, whoami{
		Hostname: host,
		PID:      os.Getpid(),
		Now:      time.Now().UTC(),
		Version:  s.cfg.Version,
	})
}
