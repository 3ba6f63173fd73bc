package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/driftfs/driftfs/internal/logger"
)

// Server wraps http.Server with context-driven lifecycle and graceful
// shutdown. Both the coordinator and the workers serve their routers
// through it.
type Server struct {
	name         string
	server       *http.Server
	shutdownOnce sync.Once
}

// NewServer creates a server for the given router.
//
// The server is created in a stopped state. Call Start() to begin serving
// requests.
//
// Parameters:
//   - name: Component name used in log lines ("coordinator", "worker")
//   - addr: Listen address, host:port
//   - handler: The router to serve
//
// Returns a configured but not yet started Server.
func NewServer(name, addr string, handler http.Handler) *Server {
	return &Server{
		name: name,
		server: &http.Server{
			Addr:         addr,
			Handler:      handler,
			ReadTimeout:  0, // chunk uploads stream for minutes
			WriteTimeout: 0,
			IdleTimeout:  120 * time.Second,
		},
	}
}

// Start starts the HTTP server and blocks until the context is cancelled or
// the listener fails.
//
// When the context is cancelled, Start initiates graceful shutdown bounded
// by shutdownTimeout and returns.
func (s *Server) Start(ctx context.Context, shutdownTimeout time.Duration) error {
	errChan := make(chan error, 1)
	go func() {
		logger.Info(s.name+" API server listening", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case errChan <- err:
			default:
			}
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info(s.name + " API server shutdown signal received")
		// A fresh context: the cancelled one would abort shutdown immediately.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("%s API server failed: %w", s.name, err)
	}
}

// Stop initiates graceful shutdown. Safe to call multiple times and
// concurrently with Start().
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("%s API server shutdown error: %w", s.name, err)
		} else {
			logger.Info(s.name + " API server stopped gracefully")
		}
	})
	return shutdownErr
}
