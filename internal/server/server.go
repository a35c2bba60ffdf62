// Package server runs the router's HTTP listeners
package server

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"net"
	"net/http"
	"time"

	"traffic-router/internal/common/logging"
)

// Server represents an HTTP server
type Server struct {
	name    string
	srv     *http.Server
	tlsCert string
	tlsKey  string
	logger  logging.Logger
}

// Option configures a Server
type Option func(*Server)

// WithTLS serves over TLS with the given certificate and key files
func WithTLS(certFile, keyFile string) Option {
	return func(s *Server) {
		s.tlsCert = certFile
		s.tlsKey = keyFile
	}
}

// WithWriteTimeout overrides the response write timeout. The proxy listener
// needs room for every forwarding attempt.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) { s.srv.WriteTimeout = d }
}

// WithLogger sets the server's logger
func WithLogger(l logging.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates a server named name (used in logs) listening on port
func New(name string, handler http.Handler, port string, opts ...Option) *Server {
	s := &Server{
		name: name,
		srv: &http.Server{
			Addr:              ":" + port,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.Component("server")
	}
	return s
}

// Addr returns the configured listen address
func (s *Server) Addr() string {
	return s.srv.Addr
}

// ListenAndServe listens on the configured address and serves until
// Shutdown. It returns nil after a graceful shutdown.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("Listener started",
		logging.String("server", s.name),
		logging.String("addr", ln.Addr().String()),
		logging.Bool("tls", s.tlsCert != ""),
	)

	var err error
	if s.tlsCert != "" && s.tlsKey != "" {
		s.srv.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		err = s.srv.ServeTLS(ln, s.tlsCert, s.tlsKey)
	} else {
		err = s.srv.Serve(ln)
	}
	if stderrors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Listener stopping", logging.String("server", s.name))
	return s.srv.Shutdown(ctx)
}
