package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// Server is the optional status listener: a read-only view over the task
// ledger and attempt log for operators watching a run.
type Server struct {
	srv *http.Server
}

// New creates a server on addr. The baseCtx is used as the base context for
// all incoming requests, so cancelling it winds down in-flight requests
// during shutdown.
func New(baseCtx context.Context, addr string, handler http.Handler) *Server {
	return &Server{
		srv: &http.Server{
			Addr:    addr,
			Handler: handler,
			BaseContext: func(_ net.Listener) context.Context {
				return baseCtx
			},
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
	}
}

func (s *Server) Start() error {
	slog.Info("starting status server", "addr", s.srv.Addr)
	return s.srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("shutting down status server")
	return s.srv.Shutdown(ctx)
}
