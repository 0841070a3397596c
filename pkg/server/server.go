// Package server exposes the read-only status surface over HTTP:
// checkpoint progress, per-target state, and harvested package detail.
// It never mutates the catalog; ingestion happens through the CLI and
// the worker pool.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/toolharbor/toolharbor/pkg/buildinfo"
	"github.com/toolharbor/toolharbor/pkg/checkpoint"
	"github.com/toolharbor/toolharbor/pkg/errors"
	"github.com/toolharbor/toolharbor/pkg/store"
)

// Server serves the status API.
type Server struct {
	checkpoints checkpoint.Store
	packages    store.Store
	logger      *log.Logger
}

// New creates a Server over the given stores.
func New(checkpoints checkpoint.Store, packages store.Store, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{checkpoints: checkpoints, packages: packages, logger: logger}
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/packages", s.handleListPackages)
		// Canonical identifiers contain slashes (github.com/owner/repo),
		// so the id is a wildcard tail, not a single segment.
		r.Get("/packages/*", s.handleGetPackage)
		r.Get("/checkpoints/*", s.handleGetCheckpoint)
	})
	return r
}

// ListenAndServe runs the server until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": buildinfo.Version,
	})
}

// statusResponse summarizes queue progress and catalog size.
type statusResponse struct {
	Checkpoints map[checkpoint.State]int64 `json:"checkpoints"`
	Packages    int64                      `json:"packages"`
	Version     string                     `json:"version"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := s.checkpoints.Counts(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	total, err := s.packages.CountPackages(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Checkpoints: counts,
		Packages:    total,
		Version:     buildinfo.Version,
	})
}

func (s *Server) handleListPackages(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, errors.New(errors.ErrCodeInvalidTarget, "invalid limit %q", v))
			return
		}
		limit = min(n, 500)
	}
	records, err := s.packages.ListPackages(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"packages": records, "count": len(records)})
}

func (s *Server) handleGetPackage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "*")
	detail, err := s.packages.GetPackage(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleGetCheckpoint(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "*")
	cp, err := s.checkpoints.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cp)
}

// errorResponse is the wire shape for failures: the taxonomy code plus a
// human-readable message, never internals.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := errors.GetCode(err)
	status := http.StatusInternalServerError
	switch code {
	case errors.ErrCodeNotFound:
		status = http.StatusNotFound
	case errors.ErrCodeInvalidTarget, errors.ErrCodeInvalidChannel:
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "err", err)
	}
	writeJSON(w, status, errorResponse{Code: string(code), Message: errors.UserMessage(err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
