// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"

	"github.com/ManuGH/segsplit/internal/fsutil"
	"github.com/ManuGH/segsplit/internal/jobs"
	xglog "github.com/ManuGH/segsplit/internal/log"
	"github.com/ManuGH/segsplit/internal/platform/paths"
	"github.com/go-chi/chi/v5"
)

type segmentsResponse struct {
	OK    bool            `json:"ok"`
	JobID string          `json:"jobId"`
	Count int             `json:"count"`
	Files []jobs.Artifact `json:"files"`
}

// finishedJob returns the job if its artifacts can be served. It writes the
// response itself otherwise.
func (s *Server) finishedJob(w http.ResponseWriter, r *http.Request, id string) (jobs.Job, bool) {
	job, err := s.registry.Get(id)
	if err != nil {
		s.writeError(w, r, err)
		return jobs.Job{}, false
	}
	if job.Status != jobs.StatusDone {
		writeJSON(w, http.StatusConflict, errorBody{Error: fmt.Sprintf("job is %s", job.Status)})
		return jobs.Job{}, false
	}
	return job, true
}

func (s *Server) handleListSegments(w http.ResponseWriter, r *http.Request, id string) {
	job, ok := s.finishedJob(w, r, id)
	if !ok {
		return
	}
	files := job.Result
	if files == nil {
		files = []jobs.Artifact{}
	}
	writeJSON(w, http.StatusOK, segmentsResponse{OK: true, JobID: id, Count: len(files), Files: files})
}

// handleSegment serves one artifact. The name comes from the path or, for
// the query form, from the "file" parameter.
func (s *Server) handleSegment(w http.ResponseWriter, r *http.Request, id string) {
	name := chi.URLParam(r, "name")
	if name == "" {
		name = r.URL.Query().Get("file")
	}
	if !paths.IsSegmentName(name) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid segment name"})
		return
	}
	if _, ok := s.finishedJob(w, r, id); !ok {
		return
	}

	f, info, ok := s.openArtifact(w, r, id, name)
	if !ok {
		return
	}
	defer func() { _ = f.Close() }()

	disposition := "attachment"
	if r.URL.Query().Get("inline") == "1" {
		disposition = "inline"
	}
	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Content-Disposition", fmt.Sprintf("%s; filename=%q", disposition, name))
	w.Header().Set("Cache-Control", "no-store")
	http.ServeContent(w, r, name, info.ModTime(), f)
}

// handleDownload returns a single artifact as-is and several as one zip
// archive streamed without compression.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request, id string) {
	job, ok := s.finishedJob(w, r, id)
	if !ok {
		return
	}
	dir := s.layout.OutputDir(id)
	switch len(job.Result) {
	case 0:
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no segments"})
		return
	case 1:
		f, info, ok := s.openArtifact(w, r, id, job.Result[0].Name)
		if !ok {
			return
		}
		defer func() { _ = f.Close() }()
		w.Header().Set("Content-Type", "video/mp4")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", id+".mp4"))
		w.Header().Set("Cache-Control", "no-store")
		http.ServeContent(w, r, id+".mp4", info.ModTime(), f)
		return
	}

	// Fail before committing headers if the output is already gone.
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "segments expired"})
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", id+".zip"))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)

	zw := zip.NewWriter(w)
	for _, a := range job.Result {
		if err := addToZip(zw, dir, a.Name); err != nil {
			// Headers are sent; the truncated archive is the only signal left.
			lg := xglog.WithContext(r.Context(), s.logger)
			lg.Warn().
				Err(err).
				Str(xglog.FieldJobID, id).
				Str(xglog.FieldPath, a.Name).
				Msg("zip download aborted")
			return
		}
	}
	if err := zw.Close(); err != nil {
		s.logger.Debug().Err(err).Str(xglog.FieldJobID, id).Msg("zip close failed")
	}
}

// openArtifact opens one segment of id. Names resolving outside the job
// directory are reported as missing. It writes the response itself on error.
func (s *Server) openArtifact(w http.ResponseWriter, r *http.Request, id, name string) (*os.File, os.FileInfo, bool) {
	path, err := fsutil.ConfineRelPath(s.layout.OutputDir(id), name)
	if err == nil {
		var f *os.File
		if f, err = os.Open(path); err == nil {
			info, serr := f.Stat()
			if serr == nil {
				return f, info, true
			}
			_ = f.Close()
			err = serr
		}
	}
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fsutil.ErrEscapesRoot) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "segment not found"})
		return nil, nil, false
	}
	s.writeError(w, r, err)
	return nil, nil, false
}

func addToZip(zw *zip.Writer, dir, name string) error {
	path, err := fsutil.ConfineRelPath(dir, name)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	hdr.Name = name
	hdr.Method = zip.Store
	dst, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	_, err = io.Copy(dst, f)
	return err
}
