// Package http serves liveness, readiness and metrics while a batch run is in
// progress.
package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	readHeaderTimeout = 5 * time.Second
	writeTimeout      = 10 * time.Second
	idleTimeout       = 60 * time.Second
)

// Server exposes /healthz, /readyz and /metrics for the lifetime of one
// pipeline run.
type Server struct {
	srv    *http.Server
	logger *slog.Logger
	done   chan struct{}
}

// NewServer creates a server on addr. /readyz reports ready once ready's
// pipeline has completed; /metrics serves gatherer.
func NewServer(addr string, ready sharedobs.ReadinessChecker, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           routes(ready, gatherer),
			ReadHeaderTimeout: readHeaderTimeout,
			WriteTimeout:      writeTimeout,
			IdleTimeout:       idleTimeout,
		},
		logger: logger,
	}
}

func routes(ready sharedobs.ReadinessChecker, gatherer prometheus.Gatherer) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return mux
}

// Listen binds the address and serves in the background until Shutdown.
// A bind failure is returned; later serve errors are logged.
func (s *Server) Listen() (net.Addr, error) {
	l, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", s.srv.Addr, err)
	}
	s.done = make(chan struct{})
	s.logger.Info("http server listening", "addr", l.Addr().String())
	go func() {
		defer close(s.done)
		if err := s.srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()
	return l.Addr(), nil
}

// Shutdown drains connections and waits for the serve loop to exit, both
// bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.srv.Shutdown(ctx)
	if s.done != nil {
		select {
		case <-s.done:
		case <-ctx.Done():
		}
	}
	return err
}

// ServeHTTP delegates to the routes without a listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.srv.Handler.ServeHTTP(w, r)
}
