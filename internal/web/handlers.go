package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/JonMunkholm/PatientETL/internal/pipeline"
)

// IngestRequest is the body of POST /api/ingest.
type IngestRequest struct {
	File   string `json:"file"`
	Strict bool   `json:"strict"`
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status     string `json:"status"`
	ActiveRuns int    `json:"active_runs"`
	MaxRuns    int    `json:"max_runs"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.runner.Ping(ctx); err != nil {
		s.respondError(w, r, err, http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, r, http.StatusOK, HealthResponse{
		Status:     "ok",
		ActiveRuns: s.limiter.Active(),
		MaxRuns:    s.limiter.Capacity(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.runner.Stats(r.Context())
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	s.writeJSON(w, r, http.StatusOK, counts)
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, r, fmt.Errorf("invalid request body: %w", err), http.StatusBadRequest)
		return
	}

	ctx, done, err := s.startRun(r)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	defer done()

	res, err := s.runner.Ingest(ctx, req.File, pipeline.IngestOptions{Strict: req.Strict})
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	s.writeJSON(w, r, http.StatusOK, res)
}

func (s *Server) handleTransform(w http.ResponseWriter, r *http.Request) {
	ctx, done, err := s.startRun(r)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	defer done()

	res, err := s.runner.Transform(ctx)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	s.writeJSON(w, r, http.StatusOK, res)
}

// startRun takes a run slot and returns a context detached from the
// request, so a client disconnect cannot abort a run halfway. The returned
// func releases the slot.
func (s *Server) startRun(r *http.Request) (context.Context, func(), error) {
	if err := s.limiter.Acquire(r.Context()); err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), runTimeout)

	return ctx, func() {
		cancel()
		s.limiter.Release()
	}, nil
}
