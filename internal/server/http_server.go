// Package server constructs and starts the relay's HTTP service with helpers
// that apply sensible production defaults.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Tyrowin/sofarelay/internal/location"
	"github.com/Tyrowin/sofarelay/internal/metrics"
	"github.com/Tyrowin/sofarelay/internal/role"
)

// Server bundles the hub with everything needed to accept connections.
// There is no package-level state; each Server owns its own hub and
// location state for its lifetime.
type Server struct {
	cfg        *Config
	hub        *Hub
	classifier role.Classifier
	upgrader   websocket.Upgrader
	registry   *prometheus.Registry
	logger     *zap.Logger
}

// New validates cfg and builds a Server. Metrics are registered on reg.
func New(cfg *Config, logger *zap.Logger, reg *prometheus.Registry) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	policy, err := location.ParseIDPolicy(cfg.IDPolicy)
	if err != nil {
		return nil, err
	}

	origins := newOriginPolicy(cfg.AllowedOrigins, logger)
	hub := NewHub(location.NewState(policy), logger, metrics.NewRelay(reg))

	return &Server{
		cfg:        cfg,
		hub:        hub,
		classifier: cfg.Classifier(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.checkOrigin,
		},
		registry: reg,
		logger:   logger,
	}, nil
}

// Hub returns the server's hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// StartHub starts the hub's event loop in a separate goroutine.
// This should be called before the HTTP server accepts connections.
func (s *Server) StartHub() {
	go s.hub.Run()
	s.logger.Info("Hub started and ready to relay locations",
		zap.String("role_mode", s.cfg.RoleMode))
}

// CreateServer creates and configures an HTTP server with the specified port and handler.
// It sets reasonable timeout values for production use.
func CreateServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// StartServer starts the HTTP server and blocks until it exits. A server
// stopped through Shutdown returns nil.
func StartServer(server *http.Server, logger *zap.Logger) error {
	logger.Info("Server listening", zap.String("addr", server.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen on %s: %w", server.Addr, err)
	}
	return nil
}

// ShutdownServer gracefully shuts down the HTTP server without interrupting active connections.
// It waits for active connections to close or until the timeout is reached.
func ShutdownServer(server *http.Server, timeout time.Duration, logger *zap.Logger) error {
	logger.Info("Shutting down HTTP server...")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}

	logger.Info("HTTP server shutdown completed")
	return nil
}
