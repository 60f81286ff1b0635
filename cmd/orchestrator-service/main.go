package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/sagaflow/saga-system/orchestrator-service/config"
	"github.com/sagaflow/saga-system/orchestrator-service/handlers"
	"github.com/sagaflow/saga-system/orchestrator-service/telemetry"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	// Load configuration
	cfg, err := config.ReadConfig()
	if err != nil {
		logger.WithError(err).Fatal("failed to load config")
	}

	logger.WithFields(logrus.Fields{
		"service": cfg.ServiceName,
		"env":     cfg.Env,
		"port":    cfg.Port,
	}).Info("starting service")

	// Initialize dependencies
	ctx := context.Background()
	deps, err := config.BuildDependencies(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to build dependencies")
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.WithError(err).Error("error closing dependencies")
		}
	}()

	// Recover sagas that were in flight before the last shutdown
	go func() {
		response, err := deps.ResumeSagas.Execute(context.Background())
		if err != nil {
			logger.WithError(err).Error("saga recovery failed")
			return
		}
		if response.Resumed > 0 {
			logger.WithField("count", response.Resumed).Info("resumed non-terminal sagas")
		}
	}()

	// Start event subscriber
	go func() {
		ctx := context.Background()
		if err := deps.EventSubscriber.Subscribe(ctx, "", deps.SagaEventHandlers); err != nil {
			logger.WithError(err).Error("event subscriber stopped")
		}
	}()

	// Setup HTTP router
	router := setupRouter(deps)

	// Setup and start HTTP server
	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.WithField("service", cfg.ServiceName).Info("shutting down")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Fatal("server forced to shutdown")
	}

	logger.WithField("service", cfg.ServiceName).Info("stopped")
}

func setupRouter(deps *config.Dependencies) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// Telemetry middleware (inject telemetry into context)
	if deps.Telemetry != nil {
		r.Use(telemetry.Middleware(deps.Telemetry))
	}

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Metrics endpoint for Prometheus
	r.Handle("/metrics", handlers.NewMetricsHandler())

	// Register saga routes
	deps.SagaHandlers.RegisterRoutes(r)

	return r
}
