// Package server wraps http.Server for the service and extractor processes.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// ShutdownGrace bounds how long in-flight requests get once Run's context
// is cancelled.
const ShutdownGrace = 10 * time.Second

// Server wraps an http.Server with configured routes.
type Server struct {
	inner  *http.Server
	logger *zap.Logger
}

// New returns a server for handler on addr. There is no write timeout:
// extraction responses stream for as long as a run lasts.
func New(addr string, handler http.Handler, logger *zap.Logger) *Server {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
		ErrorLog:          zap.NewStdLog(logger),
	}
	return &Server{inner: httpServer, logger: logger}
}

// Start begins serving HTTP traffic.
func (s *Server) Start() error {
	return s.inner.ListenAndServe()
}

// Serve serves on an existing listener.
func (s *Server) Serve(l net.Listener) error {
	return s.inner.Serve(l)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.inner.Shutdown(ctx)
}

// Run serves on l until ctx is cancelled, then shuts down. beforeShutdown,
// if set, runs first with the grace context.
func (s *Server) Run(ctx context.Context, l net.Listener, beforeShutdown func(context.Context)) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", l.Addr().String()))
		errCh <- s.Serve(l)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	graceCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ShutdownGrace)
	defer cancel()
	if beforeShutdown != nil {
		beforeShutdown(graceCtx)
	}
	if err := s.Shutdown(graceCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("stopped")
	return nil
}
