// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	dec := json.NewDecoder(buf)
	for dec.More() {
		var m map[string]any
		if err := dec.Decode(&m); err != nil {
			t.Fatalf("decode log line: %v", err)
		}
		out = append(out, m)
	}
	return out
}

func TestContextIDs(t *testing.T) {
	tests := []struct {
		name      string
		ctx       context.Context
		requestID string
		jobID     string
	}{
		{name: "nil context", ctx: nil, requestID: "req-1", jobID: "job-1"},
		{name: "background context", ctx: context.Background(), requestID: "req-2", jobID: ""},
		{name: "empty ids", ctx: context.Background()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := ContextWithJobID(ContextWithRequestID(tt.ctx, tt.requestID), tt.jobID)
			if got := RequestIDFromContext(ctx); got != tt.requestID {
				t.Errorf("RequestIDFromContext() = %q, want %q", got, tt.requestID)
			}
			if got := JobIDFromContext(ctx); got != tt.jobID {
				t.Errorf("JobIDFromContext() = %q, want %q", got, tt.jobID)
			}
		})
	}

	//nolint:staticcheck // nil context is part of the contract
	if RequestIDFromContext(nil) != "" || JobIDFromContext(nil) != "" {
		t.Error("nil context must yield empty ids")
	}
}

func TestWithContext_AddsCorrelationFields(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := ContextWithJobID(ContextWithRequestID(context.Background(), "req-9"), "job-9")
	l := WithContext(ctx, base)
	l.Info().Msg("hello")

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	if lines[0][FieldRequestID] != "req-9" || lines[0][FieldJobID] != "job-9" {
		t.Errorf("missing correlation fields: %v", lines[0])
	}

	buf.Reset()
	plain := WithContext(context.Background(), base)
	plain.Info().Msg("plain")
	lines = decodeLines(t, &buf)
	if _, ok := lines[0][FieldRequestID]; ok {
		t.Errorf("unexpected request id: %v", lines[0])
	}
}

func TestReconfigure_SetsServiceAndComponent(t *testing.T) {
	var buf bytes.Buffer
	Reconfigure(Config{Level: "debug", Output: &buf, Service: "svc", Version: "v9"})
	t.Cleanup(func() { Reconfigure(Config{Level: "info"}) })

	l := WithComponent("janitor")
	l.Debug().Msg("swept")

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	got := lines[0]
	if got["service"] != "svc" || got["version"] != "v9" || got[FieldComponent] != "janitor" {
		t.Errorf("unexpected fields: %v", got)
	}
}

func TestMiddleware_LogsRoutePattern(t *testing.T) {
	var buf bytes.Buffer
	Reconfigure(Config{Level: "info", Output: &buf})
	t.Cleanup(func() { Reconfigure(Config{Level: "info"}) })

	r := chi.NewRouter()
	r.Use(chimw.RequestID, Middleware())
	var seen string
	r.Get("/api/jobs/{id}", func(w http.ResponseWriter, req *http.Request) {
		seen = RequestIDFromContext(req.Context())
		w.WriteHeader(http.StatusTeapot)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/jobs/abc", nil))

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("expected 1 access log line, got %d", len(lines))
	}
	entry := lines[0]
	if entry[FieldRoute] != "/api/jobs/{id}" {
		t.Errorf("route = %v, want pattern", entry[FieldRoute])
	}
	if entry[FieldStatus] != float64(http.StatusTeapot) {
		t.Errorf("status = %v", entry[FieldStatus])
	}
	if seen == "" || entry[FieldRequestID] != seen {
		t.Errorf("request id not propagated: handler=%q log=%v", seen, entry[FieldRequestID])
	}
}
