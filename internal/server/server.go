package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthFunc reports component status. A non-nil error marks the process
// unhealthy.
type HealthFunc func(ctx context.Context) error

// Server exposes /health and /metrics.
type Server struct {
	checks map[string]HealthFunc
	log    *slog.Logger

	server *http.Server
}

// NewServer creates a new HTTP server
func NewServer(checks map[string]HealthFunc, log *slog.Logger) *Server {
	return &Server{
		checks: checks,
		log:    log,
	}
}

// Handler returns the routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context, port int) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.log.Info("starting http server", "port", port)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
	}()

	return s.server.ListenAndServe()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	report := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			s.log.Warn("health check failed", "check", name, "error", err)
			report[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		report[name] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(report)
}
