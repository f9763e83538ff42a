package proxy

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/corgi-proxy/corgi/internal/tracing"
)

// Server is the HTTP server for the personalization proxy. It binds the
// chi router to the configured address and provides graceful shutdown
// support.
type Server struct {
	router  chi.Router
	handler *ProxyHandler
	addr    string
	httpSrv *http.Server
}

// NewServer creates a new Server with the given ProxyHandler, listen address,
// and HTTP timeout durations. Zero-value timeouts leave the corresponding
// http.Server field at its default (no timeout). If tracingEnabled is true,
// the OpenTelemetry HTTP middleware is added to extract/inject trace context.
func NewServer(handler *ProxyHandler, addr string, readTimeout, writeTimeout, idleTimeout time.Duration, tracingEnabled bool) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	if tracingEnabled {
		r.Use(tracing.HTTPMiddleware)
	}

	// Mount-point endpoints (spec.md §6): served entirely by this service.
	r.Get("/api/v1/timelines/recommended", handler.HandleRecommendedTimeline)
	r.Post("/api/v1/interactions", handler.HandleInteraction)
	r.Get("/api/v1/interactions/counts/batch", handler.HandleInteractionCountsBatch)
	r.Get("/api/v1/recommendations", handler.HandleRecommendations)
	r.Get("/health", handler.HandleHealth)

	// Augmentation-eligible endpoints: forwarded, then injected (home) or
	// cached as-is (public/local).
	r.Get("/api/v1/timelines/home", handler.HandleHomeTimeline)
	r.Get("/api/v1/timelines/public", handler.HandlePublicOrLocalTimeline)
	r.Get("/api/v1/timelines/local", handler.HandlePublicOrLocalTimeline)

	// Everything else: transparent pass-through.
	r.NotFound(handler.HandlePassThrough)
	r.MethodNotAllowed(handler.HandlePassThrough)

	srv := &Server{
		router:  r,
		handler: handler,
		addr:    addr,
	}

	srv.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	return srv
}

// Router returns the underlying chi.Router, useful for testing or additional
// route mounting by the caller.
func (s *Server) Router() chi.Router {
	return s.router
}

// Start begins listening for HTTP connections on the configured address.
// It blocks until the server is shut down or encounters a fatal error.
func (s *Server) Start() error {
	return s.httpSrv.ListenAndServe()
}

// StartTLS begins listening for HTTPS connections using the given certificate
// and key files. It blocks until the server is shut down or encounters a fatal error.
func (s *Server) StartTLS(certFile, keyFile string) error {
	if err := s.httpSrv.ListenAndServeTLS(certFile, keyFile); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("proxy server (TLS): %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server, waiting for in-flight requests to
// complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}
