// Package httputil provides HTTP server utilities and middleware.
package httputil

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
)

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int
	ServiceName     string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	TracingEnabled  bool
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig(port int, serviceName string) ServerConfig {
	return ServerConfig{
		Port:            port,
		ServiceName:     serviceName,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Server wraps an HTTP server with routing and lifecycle management.
type Server struct {
	httpServer *http.Server
	router     chi.Router
	config     ServerConfig
	logger     *slog.Logger
}

// NewServer creates a new HTTP server with the standard middleware chain.
func NewServer(cfg ServerConfig, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(RequestID)
	router.Use(Logging(logger))
	router.Use(Recovery(logger))
	if cfg.TracingEnabled {
		router.Use(Tracing(cfg.ServiceName))
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		router: router,
		config: cfg,
		logger: logger,
	}
}

// Router returns the underlying router for route registration.
func (s *Server) Router() chi.Router {
	return s.router
}

// Run starts the server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server starting", "addr", s.httpServer.Addr, "service", s.config.ServiceName)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, shutting down")
	case sig := <-shutdownCh:
		s.logger.Info("received signal, shutting down", "signal", sig)
	case err := <-errCh:
		return err
	}

	return s.shutdown()
}

func (s *Server) shutdown() error {
	s.logger.Info("initiating graceful shutdown", "timeout", s.config.ShutdownTimeout)

	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("graceful shutdown timed out, closing", "error", err)
		return s.httpServer.Close()
	}

	s.logger.Info("graceful shutdown completed")
	return nil
}
