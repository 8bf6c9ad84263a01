// Package server runs an http.Handler until its context is cancelled, then
// shuts down gracefully.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// shutdownTimeout is the maximum time to wait for in-flight requests
// during graceful shutdown.
const shutdownTimeout = 30 * time.Second

// Config holds the configuration for a Server.
type Config struct {
	// Name identifies the listener in logs, e.g. "forms" or "metrics".
	Name string

	// Addr is the address to listen on (e.g., ":8080").
	Addr string

	Handler http.Handler

	// TLSConfig enables HTTPS when non-nil.
	TLSConfig *tls.Config

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Server wraps an http.Server with context-driven shutdown.
type Server struct {
	name string
	addr string
	srv  *http.Server
}

// New creates a Server from cfg.
func New(cfg Config) *Server {
	if cfg.Name == "" {
		cfg.Name = "http"
	}
	return &Server{
		name: cfg.Name,
		addr: cfg.Addr,
		srv: &http.Server{
			Handler:           cfg.Handler,
			TLSConfig:         cfg.TLSConfig,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       cfg.IdleTimeout,
		},
	}
}

// ListenAndServe listens on the configured address and serves until ctx is
// cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("%s: failed to listen on %s: %w", s.name, s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled. On cancellation
// it stops accepting and waits up to 30 seconds for in-flight requests.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	tlsEnabled := s.srv.TLSConfig != nil
	slog.Info("HTTP server listening",
		"name", s.name,
		"addr", ln.Addr().String(),
		"tls_enabled", tlsEnabled,
	)

	errCh := make(chan error, 1)
	go func() {
		if tlsEnabled {
			errCh <- s.srv.ServeTLS(ln, "", "")
			return
		}
		errCh <- s.srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("%s: %w", s.name, err)
	case <-ctx.Done():
	}

	slog.Info("shutting down HTTP server", "name", s.name)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("graceful shutdown timed out, in-flight requests may be lost", "name", s.name, "error", err)
		s.srv.Close()
	}
	<-errCh
	return nil
}
