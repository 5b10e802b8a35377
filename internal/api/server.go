package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"codedeploy-autodeploy/internal/config"
	"codedeploy-autodeploy/internal/logger"
	"codedeploy-autodeploy/internal/orchestrator/state"
)

// Server represents the HTTP status server of the queue runtime
type Server struct {
	config     *config.Config
	state      *state.State
	registry   *prometheus.Registry
	logger     *logger.Logger
	httpServer *http.Server
}

// StatusResponse represents the API response for the handler status
type StatusResponse struct {
	Application     string              `json:"application"`
	DeploymentGroup string              `json:"deployment_group"`
	Runtime         string              `json:"runtime"`
	State           state.StateSnapshot `json:"state"`
	Timestamp       time.Time           `json:"timestamp"`
}

// NewServer creates a new API server. registry may be nil, in which case
// /metrics is not served.
func NewServer(cfg *config.Config, st *state.State, registry *prometheus.Registry) *Server {
	return &Server{
		config:   cfg,
		state:    st,
		registry: registry,
		logger:   logger.NewDefault("api-server"),
	}
}

// Handler returns the routed handler with middleware applied
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/health", s.handleHealth)
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	if s.registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	return s.corsMiddleware(mux)
}

// Start starts the HTTP API server and blocks until ctx is cancelled
func (s *Server) Start(ctx context.Context, port int) error {
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("Starting API server", "port", port)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("API server failed", "error", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.logger.Info("Shutting down API server")
	return s.httpServer.Shutdown(shutdownCtx)
}

// handleHealth handles GET /api/v1/health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snapshot := s.state.GetSnapshot()
	code := http.StatusOK
	if snapshot.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}

	s.writeJSON(w, code, map[string]interface{}{
		"status":    snapshot.Status,
		"timestamp": time.Now().UTC(),
		"strategy":  snapshot.Strategy,
		"runtime":   s.config.Runtime,
	})
}

// handleStatus handles GET /api/v1/status - the handler state snapshot
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.logger.Debug("API request received", "endpoint", "/api/v1/status", "method", r.Method)

	s.writeJSON(w, http.StatusOK, StatusResponse{
		Application:     s.config.ApplicationName,
		DeploymentGroup: s.config.DeploymentGroupName,
		Runtime:         s.config.Runtime,
		State:           s.state.GetSnapshot(),
		Timestamp:       time.Now().UTC(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
	}
}

// corsMiddleware adds CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
