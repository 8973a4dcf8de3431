// Package apiserver wires the ingestion and summary HTTP surfaces onto two
// independent chi routers/listeners, following the teacher's proxy.Server
// split between handler construction and transport lifecycle.
package apiserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/logsentry/logsentry/internal/deviceauth"
	"github.com/logsentry/logsentry/internal/ingest"
	"github.com/logsentry/logsentry/internal/summary"
	"github.com/logsentry/logsentry/internal/tracing"
	"github.com/logsentry/logsentry/web"
)

// Server wraps an http.Server with a chi.Router, providing graceful
// start/shutdown over a single bound address.
type Server struct {
	router  chi.Router
	httpSrv *http.Server
}

// Options controls middleware wiring shared by both listeners.
type Options struct {
	TracingEnabled bool
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
}

func newRouter(opts Options) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	if opts.TracingEnabled {
		r.Use(tracing.HTTPMiddleware)
	}
	return r
}

// NewIngestServer builds the listener that accepts POST /ingest and the
// device-authorization handshake (§6.2-6.4): both are unauthenticated-by-TLS
// endpoints SDK installations talk to directly.
func NewIngestServer(addr string, ingestHandler *ingest.Handler, device *deviceauth.Handlers, opts Options) *Server {
	r := newRouter(opts)
	r.Get("/health", handleHealth)
	ingestHandler.Mount(r)
	device.Mount(r)

	return &Server{
		router: r,
		httpSrv: &http.Server{
			Addr:         addr,
			Handler:      r,
			ReadTimeout:  opts.ReadTimeout,
			WriteTimeout: opts.WriteTimeout,
			IdleTimeout:  opts.IdleTimeout,
		},
	}
}

// NewSummaryServer builds the listener that serves GET /summary/{app_id}
// plus the metrics endpoint, separated from ingestion so a noisy-neighbor
// operator dashboard can never starve log intake.
func NewSummaryServer(addr string, summaryHandler *summary.Handler, metricsHandler http.Handler, metricsPath string, opts Options) *Server {
	r := newRouter(opts)
	r.Get("/health", handleHealth)
	r.Get("/", web.StatusHandler)
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(web.StaticFS()))))
	summaryHandler.Mount(r)
	if metricsHandler != nil {
		r.Handle(metricsPath, metricsHandler)
	}

	return &Server{
		router: r,
		httpSrv: &http.Server{
			Addr:         addr,
			Handler:      r,
			ReadTimeout:  opts.ReadTimeout,
			WriteTimeout: opts.WriteTimeout,
			IdleTimeout:  opts.IdleTimeout,
		},
	}
}

// Router returns the underlying chi.Router, useful for tests.
func (s *Server) Router() chi.Router {
	return s.router
}

// Start begins listening for HTTP connections. It blocks until the server
// is shut down or encounters a fatal error.
func (s *Server) Start() error {
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("apiserver: %w", err)
	}
	return nil
}

// StartTLS begins listening for HTTPS connections using the given
// certificate and key files.
func (s *Server) StartTLS(certFile, keyFile string) error {
	if err := s.httpSrv.ListenAndServeTLS(certFile, keyFile); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("apiserver (TLS): %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server, waiting for in-flight requests to
// complete within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
