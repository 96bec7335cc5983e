package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	restapi "riskstream/internal/adapters/api"
	"riskstream/internal/adapters/approvals"
	"riskstream/internal/api/health"
	"riskstream/internal/domain/activity"
	"riskstream/internal/metrics"
	"riskstream/internal/timeline"
	"riskstream/pkg/errors"
	"riskstream/pkg/logger"
)

// SnapshotSource provides the current activity state
type SnapshotSource interface {
	Snapshot() activity.Snapshot
}

// Session is the set of user actions exposed over HTTP
type Session interface {
	SelectPortfolio(ctx context.Context, portfolioID string) error
	StartAnalysis(ctx context.Context, event restapi.MarketEvent) (*restapi.InjectResult, error)
	Approve(ctx context.Context, scenarioID string) (approvals.Record, error)
	Approvals(ctx context.Context) approvals.Records
}

// ServerConfig contains configuration for HTTP server
type ServerConfig struct {
	Addr        string
	ServiceName string
	Version     string
}

// Server wraps HTTP server with lifecycle management
type Server struct {
	httpServer *http.Server
	router     chi.Router
	log        *logger.Logger
}

// NewServer creates and configures HTTP server with all routes.
// sess may be nil, in which case only the read-only routes are mounted.
func NewServer(cfg ServerConfig, healthHandler *health.Handler, snapshots SnapshotSource, sess Session, log *logger.Logger) *Server {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Recoverer)

	r.Route("/health", func(r chi.Router) {
		r.Get("/", healthHandler.HandleHealth)
		r.Get("/ready", healthHandler.HandleReadiness)
		r.Get("/live", healthHandler.HandleLiveness)
	})

	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/snapshot", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, snapshots.Snapshot())
		})
		r.Get("/stages", func(w http.ResponseWriter, r *http.Request) {
			snap := snapshots.Snapshot()
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"version": snap.Version,
				"stages":  timeline.DeriveStages(snap),
			})
		})
		if sess != nil {
			a := &actions{sess: sess, log: log}
			r.Get("/approvals", a.listApprovals)
			r.Post("/portfolios/{id}/select", a.selectPortfolio)
			r.Post("/analysis", a.startAnalysis)
			r.Post("/scenarios/{id}/approve", a.approve)
		}
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"service": cfg.ServiceName,
			"version": cfg.Version,
			"status":  "running",
		})
	})

	addr := cfg.Addr
	if addr == "" {
		addr = ":9090"
	}

	log.Infof("HTTP server configured on %s", addr)

	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      r,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		router: r,
		log:    log,
	}
}

// Handler returns the routed handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins listening for HTTP requests
// Blocks until server is stopped or encounters an error
func (s *Server) Start() error {
	s.log.Infof("Starting HTTP server on %s", s.httpServer.Addr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "http server failed")
	}

	return nil
}

// Shutdown gracefully stops the HTTP server
// Waits for active connections to complete within timeout
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Stopping HTTP server...")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "http server shutdown failed")
	}

	s.log.Info("✓ HTTP server stopped")
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type actions struct {
	sess Session
	log  *logger.Logger
}

func (a *actions) listApprovals(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.sess.Approvals(r.Context()))
}

func (a *actions) selectPortfolio(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.sess.SelectPortfolio(r.Context(), id); err != nil {
		a.writeError(w, "select portfolio", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"portfolio_id": id})
}

func (a *actions) startAnalysis(w http.ResponseWriter, r *http.Request) {
	var event restapi.MarketEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		a.writeError(w, "start analysis", errors.Wrapf(errors.ErrInvalidInput, "decode body: %v", err))
		return
	}

	res, err := a.sess.StartAnalysis(r.Context(), event)
	if err != nil {
		a.writeError(w, "start analysis", err)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

func (a *actions) approve(w http.ResponseWriter, r *http.Request) {
	rec, err := a.sess.Approve(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, "approve scenario", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *actions) writeError(w http.ResponseWriter, action string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errors.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, errors.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, errors.ErrUnavailable):
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		a.log.Errorw("Action failed", "action", action, "error", err)
	} else {
		a.log.Warnw("Action rejected", "action", action, "status", status, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
