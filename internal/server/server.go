package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/rotagate/rotagate/internal/config"
	"github.com/rotagate/rotagate/internal/handler"
	"github.com/rotagate/rotagate/internal/metrics"
	"github.com/rotagate/rotagate/internal/openapi"
	"github.com/rotagate/rotagate/internal/server/middleware"
	"github.com/rotagate/rotagate/internal/service"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	MaxBodySize     int64 // bytes
	APIKeyHeader    string
	Version         string
	// TrustProxy takes the client address from X-Forwarded-For or X-Real-IP.
	// Any client can set those headers, so enable it only behind a proxy that
	// overwrites them.
	TrustProxy      bool
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		ShutdownTimeout: 30 * time.Second,
		CORSOrigins:     []string{"*"},
		MaxBodySize:     1 << 20, // 1MB
		APIKeyHeader:    "X-API-Key",
	}
}

// Services bundles the collaborators the router dispatches to.
type Services struct {
	Store   *config.Store
	Auth    *service.AuthService
	Keys    *service.KeyService
	Audit   *service.Auditor
	Metrics *metrics.Metrics
}

// Server is the top-level HTTP server for rotagate. It owns the Chi router
// and the services behind it.
type Server struct {
	cfg        Config
	router     chi.Router
	svc        Services
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a new Server, wires up all routes and middleware, and returns
// it ready to listen. Call ListenAndServe to start accepting connections.
func New(cfg Config, svc Services, logger *slog.Logger) *Server {
	if cfg.APIKeyHeader == "" {
		cfg.APIKeyHeader = "X-API-Key"
	}
	s := &Server{
		cfg:    cfg,
		svc:    svc,
		logger: logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	if s.cfg.TrustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", s.cfg.APIKeyHeader, middleware.RequestIDHeader},
		ExposedHeaders: []string{middleware.RequestIDHeader},
		MaxAge:         300,
	}))
	r.Use(chimw.Compress(5))
	if s.cfg.MaxBodySize > 0 {
		r.Use(chimw.RequestSize(s.cfg.MaxBodySize))
	}

	// --- Probes and documents (no auth required) ---
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if s.svc.Metrics != nil {
		r.Handle("/metrics", s.svc.Metrics.Handler())
	}
	r.Get("/openapi.json", handler.NewOpenAPIHandler(openapi.Options{
		APIKeyHeader: s.cfg.APIKeyHeader,
		Version:      s.cfg.Version,
	}).ServeSpec)

	authHandler := handler.NewAuthHandler(s.svc.Auth, s.logger)
	keyHandler := handler.NewKeyHandler(s.svc.Keys, s.cfg.APIKeyHeader, s.logger)
	auditHandler := handler.NewAuditHandler(s.svc.Audit, s.logger)

	// --- API routes ---
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", authHandler.Login)

		// Machine access authenticates with the key itself.
		r.Get("/access", keyHandler.Access)

		// Operator endpoints require a session token.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireSession(s.svc.Auth))

			r.Get("/keys", keyHandler.ListKeys)
			r.Post("/keys", keyHandler.CreateKey)
			r.Post("/keys/{id}/revoke", keyHandler.RevokeKey)

			r.Get("/audit", auditHandler.Recent)
		})
	})

	s.router = r
}

// handleHealthz is a liveness probe. Returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz is a readiness probe. An unreachable store answers 503; lost
// audit writes report "degraded" but keep the instance in rotation.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	httpStatus := http.StatusOK
	checks := map[string]string{"store": "ok", "audit": "ok"}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := s.svc.Store.Ping(ctx); err != nil {
		s.logger.Warn("readiness: store ping failed", "error", err)
		checks["store"] = "unreachable"
		status = "unavailable"
		httpStatus = http.StatusServiceUnavailable
	}
	if s.svc.Audit != nil && s.svc.Audit.Degraded() {
		checks["audit"] = "degraded: " + strconv.FormatInt(s.svc.Audit.Lost(), 10) + " lost"
		if status == "ok" {
			status = "degraded"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
}

// ListenAndServe starts the HTTP server and blocks until ctx is cancelled or
// a SIGINT or SIGTERM is received. It then performs a graceful shutdown,
// draining in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := s.Addr()

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

// Router returns the underlying Chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
