// Package http exposes the config, token, health and auth endpoints.
package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/embedkit/internal/guard"
	"github.com/nextlevelbuilder/embedkit/internal/ratelimit"
	"github.com/nextlevelbuilder/embedkit/internal/store"
	"github.com/nextlevelbuilder/embedkit/pkg/protocol"
)

// Options wires the server's collaborators.
type Options struct {
	Addr       string
	Store      store.ConfigStore
	Issuer     TokenIssuer
	Guard      *guard.Guard
	Mutation   ratelimit.Limiter
	Issuance   ratelimit.Limiter
	TrustProxy bool
}

// Server owns the listener and the registered handlers.
type Server struct {
	srv *http.Server
}

// NewServer registers every route on a fresh mux.
func NewServer(opts Options) *Server {
	mux := http.NewServeMux()

	cfg := NewConfigHandler(opts.Store, opts.Guard, opts.TrustProxy)
	cfg.SetRateLimiter(opts.Mutation)
	cfg.RegisterRoutes(mux)

	tok := NewTokenHandler(opts.Issuer, opts.TrustProxy)
	tok.SetRateLimiter(opts.Issuance)
	tok.RegisterRoutes(mux)

	auth := NewAuthHandler(opts.Guard, opts.TrustProxy)
	auth.SetRateLimiter(opts.Mutation)
	auth.RegisterRoutes(mux)

	NewHealthHandler(opts.Store).RegisterRoutes(mux)

	return &Server{srv: &http.Server{
		Addr:              opts.Addr,
		Handler:           recoverPanics(logRequests(allowFraming(mux))),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}}
}

// Handler returns the root handler (tests).
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", s.srv.Addr)
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		slog.Info("http server shutting down")
		return s.srv.Shutdown(shutdownCtx)
	}
}

// allowFraming lets any origin frame every page so the embed renderer can load in an iframe.
func allowFraming(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "frame-ancestors *")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Debug("http.request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				slog.Error("http.panic", "path", r.URL.Path, "panic", v)
				writeError(w, protocol.NewError(protocol.ErrStore, "Internal error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}
