package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nutri-auth/internal/config"
	"nutri-auth/internal/container"
	"nutri-auth/internal/domain"
	"nutri-auth/internal/guard"
	"nutri-auth/internal/handler"
	"nutri-auth/internal/middleware"
	apperrors "nutri-auth/pkg/errors"
	"nutri-auth/pkg/logger"
)

// Resources holds all resources that need cleanup
type Resources struct {
	container *container.Container
	server    *http.Server
	log       *logger.Logger
	mu        sync.Mutex
	closed    bool
}

// Cleanup gracefully closes all resources
func (r *Resources) Cleanup(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	r.log.Info("Starting graceful shutdown...")

	// Shutdown HTTP server first to stop accepting new requests
	var shutdownErr error
	if r.server != nil {
		r.log.Info("Shutting down HTTP server...")
		if err := r.server.Shutdown(ctx); err != nil {
			r.log.WithError(err).Error("Failed to shutdown HTTP server")
			shutdownErr = fmt.Errorf("HTTP server shutdown: %w", err)
		} else {
			r.log.Info("HTTP server shutdown complete")
		}
	}

	// Report backend state one last time before closing connections
	if r.container != nil {
		healthCtx, healthCancel := context.WithTimeout(ctx, 2*time.Second)
		for name, err := range r.container.Health(healthCtx) {
			if err != nil {
				r.log.WithError(err).WithField("backend", name).Warn("Health check failed before closing")
			}
		}
		healthCancel()

		r.container.Close(ctx)
		r.log.Info("Backend connections closed")
	}

	if shutdownErr != nil {
		return shutdownErr
	}
	r.log.Info("Graceful shutdown completed successfully")
	return nil
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(cfg.LogLevel,
		logger.WithConsole(cfg.IsDevelopment()),
		logger.WithService("nutri-auth", cfg.Environment))
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.WithFields(map[string]interface{}{
		"port":            cfg.Port,
		"log_level":       cfg.LogLevel,
		"profile_backend": cfg.ProfileBackend,
	}).Info("Starting nutri-auth server")

	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	c, err := container.New(startCtx, cfg, log)
	startCancel()
	if err != nil {
		log.WithError(err).Fatal("Failed to create container")
	}

	server := &http.Server{
		Addr:           ":" + cfg.Port,
		Handler:        setupRouter(c),
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   60 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	resources := &Resources{container: c, server: server, log: log}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := resources.Cleanup(cleanupCtx); err != nil {
			log.WithError(err).Error("Cleanup completed with errors")
		}
	}()

	serverErrChan := make(chan error, 1)
	go func() {
		log.Info("Server starting on port " + cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("Server error occurred")
			serverErrChan <- err
		}
	}()

	select {
	case sig := <-quit:
		log.WithField("signal", sig.String()).Info("Received shutdown signal")
	case err := <-serverErrChan:
		log.WithError(err).Error("Server failed, initiating shutdown")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
	defer cancel()

	if err := resources.Cleanup(shutdownCtx); err != nil {
		log.WithError(err).Error("Graceful shutdown completed with errors")
		os.Exit(1)
	}

	log.Info("Application shutdown complete")
}

// adminRule guards the admin API
var adminRule = guard.Rule{
	Path:             "/api/admin",
	RequireAuth:      true,
	AllowedUserTypes: []domain.UserType{domain.UserTypeAdmin},
}

// setupRouter configures and returns the HTTP router
func setupRouter(c *container.Container) *chi.Mux {
	cfg := c.Config
	log := c.Logger

	r := chi.NewRouter()

	r.Use(middleware.CORS(middleware.NewCORSPolicy(cfg.AllowedOrigins...), log))
	r.Use(middleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(60 * time.Second))

	healthHandler := handler.NewHealthHandler(c, log)
	sessionHandler := handler.NewSessionHandler(c.Engine, log)
	guardHandler := handler.NewGuardHandler(c.Engine, c.Routes, log)
	authHandler := handler.NewAuthHandler(c.Engine, log)
	adminHandler := handler.NewAdminHandler(c.Profiles, log)

	r.Get("/health", healthHandler.Check)
	r.Handle("/metrics", promhttp.HandlerFor(c.Registry, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Use(c.Cookie.Middleware)

		r.Get("/session", sessionHandler.Get)
		r.Post("/session/reconcile", sessionHandler.Reconcile)
		r.Get("/guard", guardHandler.Check)

		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", authHandler.Login)
			r.Post("/register", authHandler.Register)
			r.Post("/logout", authHandler.Logout)
			r.Post("/password-reset", authHandler.PasswordReset)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(guard.Require(c.Engine, adminRule, log))

			r.Get("/profiles", adminHandler.ListProfiles)
			r.Post("/profiles/{identity}/approve", adminHandler.ApproveExpert)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, r, apperrors.NewNotFoundError("Endpoint not found"), log)
	})

	log.Info("Router configured successfully")
	return r
}
