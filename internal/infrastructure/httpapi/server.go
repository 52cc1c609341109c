package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Server hosts the admin control surface with per-IP rate limiting on
// the mutating endpoints.
type Server struct {
	http   *http.Server
	logger *slog.Logger
}

func newMux(handlers *Handlers, limiter *rateLimiter) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("POST /sync/manual", limiter.middleware(http.HandlerFunc(handlers.TriggerSync)))
	mux.Handle("POST /sync/all", limiter.middleware(http.HandlerFunc(handlers.TriggerSync)))
	mux.Handle("POST /sync/{source}", limiter.middleware(http.HandlerFunc(handlers.TriggerSync)))
	mux.HandleFunc("GET /sync/status", handlers.Status)
	mux.HandleFunc("GET /logs", handlers.Logs)
	mux.Handle("POST /health-check", limiter.middleware(http.HandlerFunc(handlers.HealthCheck)))
	return mux
}

// NewServer builds the route table and the underlying http.Server.
func NewServer(addr string, handlers *Handlers, rps float64, burst int, logger *slog.Logger) *Server {
	mux := newMux(handlers, newRateLimiter(rps, burst))

	return &Server{
		http: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 5 * time.Minute,
			IdleTimeout:  120 * time.Second,
		},
		logger: logger,
	}
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	s.logger.Info("admin api listening", "addr", s.http.Addr)
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
