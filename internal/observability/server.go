// Package observability serves the operational endpoints (metrics, probes)
// and the gRPC interceptors.
package observability

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ai-voice-bridge-service/internal/observability/logging"
)

// Server exposes /metrics, /healthz and /readyz on a separate port from the
// voice gateway so scrapes never compete with client sockets.
type Server struct {
	server *http.Server
	ready  atomic.Bool
}

// Option configures a Server.
type Option func(*options)

type options struct {
	gatherer prometheus.Gatherer
}

// WithGatherer serves metrics from g instead of the default registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(o *options) { o.gatherer = g }
}

// NewServer creates the observability server for addr. It starts ready.
func NewServer(addr string, opts ...Option) *Server {
	o := options{gatherer: prometheus.DefaultGatherer}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Server{}
	s.ready.Store(true)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(o.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", s.readyz)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if !s.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("draining"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// Handler returns the endpoint mux.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// SetReady toggles the /readyz response.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

// Start listens in the background. Listen errors are logged.
func (s *Server) Start() {
	logger := logging.WithComponent("observability")
	go func() {
		logger.Info().Str("addr", s.server.Addr).Msg("Observability server listening")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("Observability server failed")
		}
	}()
}

// Shutdown stops the server, waiting for in-flight scrapes until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	s.SetReady(false)
	return s.server.Shutdown(ctx)
}
