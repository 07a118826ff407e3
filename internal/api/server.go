package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/terra-clan/screening-engine/internal/bank"
	"github.com/terra-clan/screening-engine/internal/config"
	"github.com/terra-clan/screening-engine/internal/engine"
	"github.com/terra-clan/screening-engine/internal/sessions"
)

// Pinger is a dependency checked by the readiness probe
type Pinger interface {
	Ping(ctx context.Context) error
}

// EventSink accepts chat events for processing
type EventSink interface {
	Submit(ev engine.Event) error
}

// Deps are the components the server exposes
type Deps struct {
	Tests    *bank.Loader
	Sessions *sessions.Store
	Hub      *Hub
	Events   EventSink
	Checks   map[string]Pinger
}

// Server represents the HTTP API server
type Server struct {
	config         config.ServerConfig
	router         *chi.Mux
	deps           Deps
	authMiddleware *AuthMiddleware
}

// NewServer creates a new API server
func NewServer(cfg config.ServerConfig, admin config.AdminConfig, deps Deps) *Server {
	s := &Server{
		config:         cfg,
		deps:           deps,
		authMiddleware: NewAuthMiddleware(StaticClients(admin)),
	}
	s.setupRouter()
	return s
}

// Router returns the configured router
func (s *Server) Router() http.Handler {
	return s.router
}

// setupRouter configures all routes and middleware
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)

	// Chat transport; users are identified by an opaque numeric id only
	r.Get("/ws", s.handleChat)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Use(s.authMiddleware.Authenticate)

		r.Route("/tests", func(r chi.Router) {
			r.With(s.authMiddleware.RequirePermission("tests:read")).Get("/", s.handleListTests)
			r.With(s.authMiddleware.RequirePermission("tests:read")).Get("/{id}", s.handleGetTest)
			r.With(s.authMiddleware.RequirePermission("tests:write")).Post("/{id}/reload", s.handleReloadTest)
		})

		r.Route("/sessions", func(r chi.Router) {
			r.With(s.authMiddleware.RequirePermission("sessions:read")).Get("/", s.handleListSessions)
			r.With(s.authMiddleware.RequirePermission("sessions:read")).Get("/{userID}", s.handleGetSession)
			r.With(s.authMiddleware.RequirePermission("sessions:write")).Delete("/{userID}", s.handleDeleteSession)
		})
	})

	s.router = r
}

// loggingMiddleware logs HTTP requests using slog
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			slog.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
				"remote_addr", r.RemoteAddr,
			)
		}()

		next.ServeHTTP(ww, r)
	})
}
