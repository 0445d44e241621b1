package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Brownie44l1/digit-bridge/internal/config"
)

type Server struct {
	server *http.Server
	logger *zap.Logger
}

// NewServer wires h behind the middleware chain.
func NewServer(cfg config.ServerConfig, h *Handler, logger *zap.Logger) *Server {
	mux := http.NewServeMux()
	h.Routes(mux, cfg.AllowedOrigins)

	chain := Chain(
		Recovery(logger),
		RequestLogger(logger),
		CORS(cfg.AllowedOrigins),
		MaxBody(cfg.MaxBodyBytes),
	)

	return &Server{
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      chain(mux),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  120 * time.Second,
		},
		logger: logger,
	}
}

// Start blocks serving until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("server starting", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

func (s *Server) Handler() http.Handler {
	return s.server.Handler
}
