// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"net/http"

	"github.com/ManuGH/segsplit/internal/jobs"
)

type jobResponse struct {
	OK  bool     `json:"ok"`
	Job jobs.Job `json:"job"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

// handleProgress is the polling endpoint. It answers from the registry only.
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	withQueryID(s.handleJob)(w, r)
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request, id string) {
	job, err := s.registry.Get(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jobResponse{OK: true, Job: job})
}

// handleCancel requests cancellation. Completion is observed by polling.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request, id string) {
	if err := s.jobs.Cancel(id); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, okResponse{OK: true})
}
