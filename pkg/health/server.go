// Package health serves liveness, readiness and Prometheus endpoints for the
// gateway process.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Server struct {
	server  *http.Server
	ready   atomic.Bool
	started time.Time
}

type status struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

// NewServer builds the server. A nil gatherer leaves /metrics unregistered.
func NewServer(host string, port int, gatherer prometheus.Gatherer) *Server {
	s := &Server{started: time.Now()}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.health)
	mux.HandleFunc("GET /ready", s.readiness)
	if gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	s.server = &http.Server{
		Addr:              net.JoinHostPort(host, strconv.Itoa(port)),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the routes without listening.
func (s *Server) Handler() http.Handler { return s.server.Handler }

// SetReady flips the /ready answer.
func (s *Server) SetReady(ready bool) { s.ready.Store(ready) }

// Start listens until Stop. It returns http.ErrServerClosed after a clean stop.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("health server shutdown: %w", err)
	}
	return nil
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	s.write(w, http.StatusOK, "ok")
}

func (s *Server) readiness(w http.ResponseWriter, _ *http.Request) {
	if !s.ready.Load() {
		s.write(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	s.write(w, http.StatusOK, "ready")
}

func (s *Server) write(w http.ResponseWriter, code int, state string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status{
		Status: state,
		Uptime: time.Since(s.started).Truncate(time.Second).String(),
	})
}
