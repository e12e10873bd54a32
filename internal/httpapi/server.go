package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/inboxrelay/internal/config"
)

// Server hosts the relay's HTTP API.
type Server struct {
	cfg     *config.Config
	handler *IngestHandler

	httpServer *http.Server
	mux        *http.ServeMux
}

func NewServer(cfg *config.Config, runner Runner) *Server {
	return &Server{
		cfg:     cfg,
		handler: NewIngestHandler(runner, cfg.Server.Token, cfg.Server.RateLimitRPM),
	}
}

// BuildMux creates and caches the mux with all routes registered.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}
	mux := http.NewServeMux()
	s.handler.RegisterRoutes(mux)
	s.mux = mux
	return mux
}

// Start listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	mux := s.BuildMux()

	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	slog.Info("api.starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}
