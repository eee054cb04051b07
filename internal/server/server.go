// Package server exposes the orchestrator over HTTP: a huma-described JSON API for reviews,
// decompositions, and suggestion sessions, a server-sent event stream of progress events,
// Prometheus metrics, and health probes.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/felixgeelhaar/specforge/internal/events"
	"github.com/felixgeelhaar/specforge/internal/health"
	"github.com/felixgeelhaar/specforge/internal/log"
	"github.com/felixgeelhaar/specforge/internal/metrics"
	"github.com/felixgeelhaar/specforge/internal/orchestrator"
)

// Server is the specforge HTTP server
type Server struct {
	httpServer      *http.Server
	handler         http.Handler
	probes          *health.Probes
	bus             *events.Bus
	logger          *log.Logger
	inShutdown      atomic.Bool
	shutdownTimeout time.Duration
}

// Config holds server configuration
type Config struct {
	// Address is the listen address, e.g. "127.0.0.1:7420"
	Address string

	// ShutdownTimeout bounds connection draining. Defaults to 30 seconds.
	ShutdownTimeout time.Duration

	// ReadTimeout defaults to 10 seconds. There is no write timeout because the event
	// stream is long-lived.
	ReadTimeout time.Duration

	// IdleTimeout defaults to 60 seconds
	IdleTimeout time.Duration

	Version  string
	Service  *orchestrator.Service
	Bus      *events.Bus
	Probes   *health.Probes
	Gatherer prometheus.Gatherer
	Logger   *log.Logger
}

// New creates a server with all routes registered
func New(cfg Config) *Server {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	if cfg.Probes == nil {
		cfg.Probes = health.NewProbes(cfg.Version, nil)
	}
	if cfg.Bus == nil {
		cfg.Bus = events.NewBus()
	}

	s := &Server{
		probes:          cfg.Probes,
		bus:             cfg.Bus,
		logger:          log.OrDefault(cfg.Logger).Component("server"),
		shutdownTimeout: cfg.ShutdownTimeout,
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(s.requestLogger)

	router.Get("/health/live", s.handleLiveness)
	router.Get("/health/ready", s.handleReadiness)
	router.Get("/health/startup", s.handleStartup)
	router.Get("/healthz", s.handleReadiness)

	if cfg.Gatherer != nil {
		router.Handle("/metrics", metrics.HandlerFor(cfg.Gatherer))
	} else {
		router.Handle("/metrics", metrics.Handler())
	}
	router.Get("/api/events", s.handleEvents)

	hcfg := huma.DefaultConfig("specforge API", cfg.Version)
	hcfg.OpenAPIPath = "/api/openapi"
	hcfg.DocsPath = "/api/docs"
	hcfg.SchemasPath = "/api/schemas"
	api := humachi.New(router, hcfg)
	if cfg.Service != nil {
		registerAPI(huma.NewGroup(api, "/api"), cfg.Service)
	}

	s.handler = router
	s.httpServer = &http.Server{
		Addr:              cfg.Address,
		Handler:           router,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
	return s
}

// Handler returns the root handler, for tests and embedding
func (s *Server) Handler() http.Handler { return s.handler }

// Start serves until Shutdown. It returns http.ErrServerClosed after a graceful shutdown.
func (s *Server) Start() error {
	s.probes.MarkInitialized()
	s.logger.Info("listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown fails readiness, stops keep-alives, and drains connections up to the
// shutdown timeout
func (s *Server) Shutdown(ctx context.Context) error {
	s.inShutdown.Store(true)
	s.probes.MarkShutdown()
	s.httpServer.SetKeepAlivesEnabled(false)

	ctx, cancel := context.WithTimeout(ctx, s.shutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// IsShuttingDown reports whether Shutdown was called
func (s *Server) IsShuttingDown() bool {
	return s.inShutdown.Load()
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func writeProbe(w http.ResponseWriter, result *health.ProbeResult, unhealthyStatus int) {
	w.Header().Set("Content-Type", "application/json")
	if result.Status == health.StatusUnhealthy {
		w.WriteHeader(unhealthyStatus)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(result)
}

// handleLiveness always answers 200, degraded while shutting down
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	writeProbe(w, s.probes.Liveness(r.Context()), http.StatusOK)
}

// handleReadiness answers 503 while shutting down or when a dependency is unhealthy
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	writeProbe(w, s.probes.Readiness(r.Context()), http.StatusServiceUnavailable)
}

// handleStartup answers 503 until Start was called
func (s *Server) handleStartup(w http.ResponseWriter, r *http.Request) {
	writeProbe(w, s.probes.Startup(r.Context()), http.StatusServiceUnavailable)
}

// handleEvents streams bus events as server-sent events. The optional spec query parameter
// filters to one document.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	spec := r.URL.Query().Get("spec")

	ch, cancel := s.bus.Subscribe(256)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	keepAlive := time.NewTicker(15 * time.Second)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case e, ok := <-ch:
			if !ok {
				return
			}
			if spec != "" && e.Spec != spec {
				continue
			}
			data, err := json.Marshal(e)
			if err != nil {
				s.logger.WithError(err).Warn("dropping unencodable event", "type", e.Type)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, data)
			flusher.Flush()
		}
	}
}
