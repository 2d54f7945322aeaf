// Package api serves the run's health, metrics and report endpoints.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/skimmer-dev/skimmer/internal/engine"
	"github.com/skimmer-dev/skimmer/internal/metrics"
	"github.com/skimmer-dev/skimmer/internal/ratelimit"
)

// Server exposes /healthz, /metrics and /report while a run is active.
type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

// New builds the HTTP server. adaptive may be nil when the run uses a
// fixed rate controller.
func New(port int, runID string, report *engine.RunReport, adaptive *ratelimit.Adaptive, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	r.Handle("/metrics", metrics.Handler())
	r.Get("/report", func(w http.ResponseWriter, _ *http.Request) {
		body := reportBody{
			RunID:  runID,
			Report: report.Snapshot(),
		}
		if adaptive != nil {
			stats := adaptive.Stats()
			body.Adaptive = &stats
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(body); err != nil {
			logger.Warn("encode report response", zap.Error(err))
		}
	})

	return &Server{
		srv: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

type reportBody struct {
	RunID    string                   `json:"run_id"`
	Report   engine.ReportSnapshot    `json:"report"`
	Adaptive *ratelimit.AdaptiveStats `json:"adaptive,omitempty"`
}

// Start serves in the background until Shutdown.
func (s *Server) Start() {
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("status server failed", zap.Error(err))
		}
	}()
	s.logger.Info("status server listening", zap.String("addr", s.srv.Addr))
}

// Shutdown drains the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
