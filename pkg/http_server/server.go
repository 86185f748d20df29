package http_server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jaennil/guide_helper/backend/mapviewer/pkg/config"
	"github.com/jaennil/guide_helper/backend/mapviewer/pkg/logger"
)

const shutdownTimeout = 30 * time.Second

type Server struct {
	srv *http.Server
	l   logger.Logger
}

func NewServer(ctx context.Context, cfg config.Server, handler http.Handler) *Server {
	return &Server{
		srv: &http.Server{
			Addr:         ":" + cfg.Port,
			Handler:      withLogger(ctx, handler),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		l: logger.FromContext(ctx),
	}
}

func (s *Server) Addr() string {
	return s.srv.Addr
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.l.Info("starting http server...", "address", s.srv.Addr)
		err := s.srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.l.Info("shutting down http server...", "address", s.srv.Addr)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		s.l.Error("http server shutdown failed", "error", err)
		return err
	}
	s.l.Info("http_server shutdown completed")

	return nil
}

// withLogger attaches the application logger to each request context
// without replacing the request's own cancellation.
func withLogger(ctx context.Context, next http.Handler) http.Handler {
	l := logger.FromContext(ctx)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(logger.WithLogger(r.Context(), l)))
	})
}
