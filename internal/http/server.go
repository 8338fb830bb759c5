package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lumoware/lumo/internal/config"
)

// Server is the HTTP front of the daemon: the streaming surface plus a
// health probe.
type Server struct {
	cfg    config.ServerConfig
	logger *slog.Logger
	srv    *http.Server
}

// NewServer builds the router and wires the stream handler onto it.
func NewServer(cfg config.ServerConfig, streams *StreamHandler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(requestLogger(logger))
	r.Use(recovery(logger))

	streams.Register(r)
	r.Get("/healthz", newHealthHandler().get)

	return &Server{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "http")),
		srv: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:      r,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
	}
}

// Start serves until the listener is closed. It blocks; run it in a
// goroutine and call Shutdown to stop.
func (s *Server) Start() error {
	s.logger.Info("http server listening", slog.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
