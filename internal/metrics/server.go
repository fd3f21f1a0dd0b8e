package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

// Server exposes a run's registry over HTTP while the simulation is in progress
type Server struct {
	router   *mux.Router
	server   *http.Server
	listener net.Listener
	registry *Registry
}

// NewServer binds addr and routes /metrics, /health and /progress
func NewServer(addr string, registry *Registry) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics address %s is busy or unavailable: %w", addr, err)
	}

	s := &Server{
		router:   mux.NewRouter(),
		listener: listener,
		registry: registry,
	}
	s.setupRoutes()

	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestLoggingMiddleware)

	s.router.Handle("/metrics", s.registry.Handler()).Methods("GET")
	s.router.HandleFunc("/health", s.health).Methods("GET")
	s.router.HandleFunc("/progress", s.progress).Methods("GET")
}

// Addr returns the bound address, useful when listening on port 0
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Start serves in the background until Shutdown
func (s *Server) Start() {
	go func() {
		log.Info().Str("addr", s.Addr()).Msg("Metrics server listening")
		if err := s.server.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Metrics server failed")
		}
	}()
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) progress(w http.ResponseWriter, _ *http.Request) {
	snap := s.registry.Snapshot()
	writeJSON(w, map[string]float64{
		"iterations_completed": snap["hrpsim_iterations_total"],
		"iterations_active":    snap["hrpsim_active_iterations"],
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to encode response")
	}
}

// requestLoggingMiddleware logs every request at debug level
func (s *Server) requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}
