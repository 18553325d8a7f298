package server

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"queue-router/internal/common/errors"
)

// Server represents an HTTP server
type Server struct {
	srv *http.Server
	ln  net.Listener
}

// New creates a new server instance listening on port (0 picks a free port)
func New(handler http.Handler, port int) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
	}
}

// Listen binds the port so that startup fails early when it is taken
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return errors.ConfigError("failed to bind HTTP port", err).WithContext("addr", s.srv.Addr)
	}
	s.ln = ln
	return nil
}

// Addr returns the bound address, or the configured one before Listen
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.srv.Addr
}

// Serve blocks until the server stops. It returns nil after Shutdown.
func (s *Server) Serve() error {
	if s.ln == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	if err := s.srv.Serve(s.ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return errors.InternalError("HTTP server failed", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
