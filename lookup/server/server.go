package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/c360/lookupkit/errors"
	"github.com/c360/lookupkit/health"
	"github.com/c360/lookupkit/metric"
)

const healthSystem = "lookups"

// Server is the HTTP server of a master: the lookup endpoint plus /health
// and, with a registry, /metrics.
type Server struct {
	addr    string
	handler *Handler
	metrics *metric.MetricsRegistry
	health  *health.Monitor
	tlsConf *tls.Config

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	stopped  bool
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithHealth serves the refresh health tracked by m on /health.
func WithHealth(m *health.Monitor) ServerOption {
	return func(s *Server) {
		s.health = m
	}
}

// WithTLS serves HTTPS with cfg. A nil cfg keeps plain HTTP.
func WithTLS(cfg *tls.Config) ServerOption {
	return func(s *Server) {
		s.tlsConf = cfg
	}
}

// NewServer serves handler on addr. metrics may be nil.
func NewServer(addr string, handler *Handler, metrics *metric.MetricsRegistry, opts ...ServerOption) *Server {
	if addr == "" {
		addr = ":8080"
	}
	s := &Server{addr: addr, handler: handler, metrics: metrics}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Mux builds the routes the server answers.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	s.handler.Register(mux)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	if s.health != nil {
		mux.Handle("/health", s.health.Handler(healthSystem))
	} else {
		mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("OK"))
		})
	}
	return mux
}

// Start listens and serves until Stop. It returns once the listener is
// closed, or at once when Stop came first.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	if s.server != nil {
		s.mu.Unlock()
		return errors.WrapInvalid(fmt.Errorf("server already running"), "Server", "Start", "start lookup server")
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.mu.Unlock()
		return errors.WrapFatal(err, "Server", "Start", fmt.Sprintf("listen on %s", s.addr))
	}
	if s.tlsConf != nil {
		ln = tls.NewListener(ln, s.tlsConf)
	}
	server := &http.Server{
		Handler:           s.Mux(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.server = server
	s.listener = ln
	s.mu.Unlock()

	s.handler.logger.Info("Lookup server listening", "addr", ln.Addr().String(), "tls", s.tlsConf != nil)
	if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
		return errors.WrapFatal(err, "Server", "Start", fmt.Sprintf("serve on %s", s.addr))
	}
	return nil
}

// Addr returns the bound address once started, else the configured one.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Stop gracefully shuts down the server. It cannot be restarted.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.server == nil {
		return nil
	}
	err := s.server.Shutdown(ctx)
	s.server = nil
	s.listener = nil
	if err != nil {
		return errors.WrapTransient(err, "Server", "Stop", "shutdown HTTP server")
	}
	return nil
}
