// Package server wires the HTTP surface: the websocket streaming
// endpoint, the read-side operations API, metrics, and health probes.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	v1 "github.com/loothing/lodestone/internal/api/v1"
	"github.com/loothing/lodestone/internal/auth"
	"github.com/loothing/lodestone/internal/config"
	"github.com/loothing/lodestone/internal/domain"
	"github.com/loothing/lodestone/internal/ingest"
	"github.com/loothing/lodestone/internal/server/middleware"
	"github.com/loothing/lodestone/internal/session"
	"github.com/loothing/lodestone/internal/store/postgres"
	redisstore "github.com/loothing/lodestone/internal/store/redis"
)

// Server is the HTTP server that wires all application routes and middleware.
type Server struct {
	router      chi.Router
	httpServer  *http.Server
	store       *postgres.Store
	auth        *auth.Service
	pubsub      *redisstore.PubSub
	registry    *session.Registry
	coordinator *ingest.Coordinator
	cfg         *config.Config
}

// New creates a Server with all routes wired.
func New(cfg *config.Config, store *postgres.Store, pubsub *redisstore.PubSub, authSvc *auth.Service, registry *session.Registry, coordinator *ingest.Coordinator) *Server {
	router := chi.NewRouter()

	// Global middleware stack.
	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(chimw.Logger)
	router.Use(chimw.Recoverer)
	router.Use(cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler)

	s := &Server{
		router:      router,
		store:       store,
		auth:        authSvc,
		pubsub:      pubsub,
		registry:    registry,
		coordinator: coordinator,
		cfg:         cfg,
		httpServer: &http.Server{
			Addr:        cfg.Server.Addr,
			Handler:     router,
			ReadTimeout: cfg.Server.ReadTimeout,
			// No server-wide WriteTimeout: the streaming endpoint
			// holds its connection open indefinitely. The operations
			// API gets a per-request deadline on its route instead.
		},
	}

	// Streaming endpoint. Per-IP limiting guards the unauthenticated
	// accept path; credential quotas take over after the handshake.
	router.Route("/stream", func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(context.Background(), 10, 20))
		r.Get("/", s.handleStream)
	})

	// Read-side operations API.
	router.Route("/api/v1", func(r chi.Router) {
		r.Use(chimw.Timeout(cfg.Server.WriteTimeout))
		r.Use(middleware.APIKey(authSvc, domain.CapabilityQuery))
		r.Use(middleware.RateLimitByClient(context.Background(), 100, 200))

		apiConfig := huma.DefaultConfig("Lodestone API", "1.0.0")
		apiConfig.Servers = []*huma.Server{
			{URL: "/api/v1"},
		}
		api := humachi.New(r, apiConfig)
		v1.RegisterStatsRoutes(api, coordinator, registry, authSvc)
		v1.RegisterEncounterRoutes(api, store.Encounters())
	})

	// Metrics (unauthenticated, aggregate counters only).
	router.Get("/metrics", s.handleMetrics)

	// Health probes (unauthenticated).
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	router.Get("/readyz", s.handleReady)

	return s
}

// handleReady reports readiness: the process is ready when it can still
// accept sessions and its backing stores answer.
func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	stats := s.registry.Stats()

	w.Header().Set("Content-Type", "application/json")
	if stats.TotalSessions >= stats.MaxSessions {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"at_capacity"}`))
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, `{"status":"ready","sessions":%d,"max_sessions":%d}`,
		stats.TotalSessions, stats.MaxSessions)
}

// Start begins listening for HTTP requests.
func (s *Server) Start(_ context.Context) error {
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server.Start: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}
